package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
)

// Phase 1 of a two-phase job contributes this share of overall progress.
const (
	twoPassFirstWeight = 0.4
	paletteWeight      = 0.5
)

// Builder translates kind parameters into ffmpeg argument vectors. Runners
// never see flag semantics, only the resulting plan.
type Builder struct {
	ffmpegPath  string
	ffprobePath string
}

func NewBuilder(ffmpegPath, ffprobePath string) *Builder {
	return &Builder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

func (b *Builder) Build(ctx context.Context, req port.BuildRequest) (*port.Plan, error) {
	switch req.Kind {
	case domain.JobKindCompress:
		return b.buildCompress(ctx, req)
	case domain.JobKindConvert:
		return b.buildConvert(ctx, req)
	case domain.JobKindTrim:
		return b.buildTrim(req)
	case domain.JobKindGif:
		return b.buildGif(req)
	case domain.JobKindThumbnail:
		return b.buildThumbnail(req)
	case domain.JobKindFrameExtract:
		return b.buildFrameExtract(ctx, req)
	}
	return nil, fmt.Errorf("unknown job kind: %s", req.Kind)
}

func (b *Builder) buildCompress(ctx context.Context, req port.BuildRequest) (*port.Plan, error) {
	var p domain.CompressParams
	if err := json.Unmarshal(orEmpty(req.Params), &p); err != nil {
		return nil, fmt.Errorf("decode compress params: %w", err)
	}
	codec := defaultStr(p.Codec, "libx264")
	preset := defaultStr(p.Preset, "medium")
	crf := p.CRF
	if crf == 0 {
		crf = 28
	}

	ext := ".mp4"
	if codec == "libaom-av1" || codec == "libvpx-vp9" {
		ext = ".webm"
	}
	outputPath := filepath.Join(req.OutputDir, req.JobID+"_compressed"+ext)

	info, err := probe(ctx, b.ffprobePath, req.InputPath)
	if err != nil {
		info = mediaInfo{} // progress falls back to the Duration header
	}

	if !p.TwoPass {
		args := []string{
			b.ffmpegPath,
			"-i", req.InputPath,
			"-c:v", codec,
			"-crf", fmt.Sprintf("%d", crf),
			"-preset", preset,
			"-c:a", "aac",
			"-b:a", "128k",
			"-movflags", "+faststart",
			"-progress", "pipe:1", "-nostats",
			"-y", outputPath,
		}
		return &port.Plan{
			Invocations: []port.Invocation{{
				Argv:          args,
				OutputPath:    outputPath,
				Phase:         "encode",
				Weight:        1,
				InputDuration: info.DurationSec,
			}},
			ResultPath: outputPath,
		}, nil
	}

	passlog := filepath.Join(req.OutputDir, req.JobID+"_2pass")
	pass1 := []string{
		b.ffmpegPath,
		"-i", req.InputPath,
		"-c:v", codec,
		"-crf", fmt.Sprintf("%d", crf),
		"-preset", preset,
		"-pass", "1",
		"-passlogfile", passlog,
		"-an",
		"-progress", "pipe:1", "-nostats",
		"-f", "null",
		"-y", os.DevNull,
	}
	pass2 := []string{
		b.ffmpegPath,
		"-i", req.InputPath,
		"-c:v", codec,
		"-crf", fmt.Sprintf("%d", crf),
		"-preset", preset,
		"-pass", "2",
		"-passlogfile", passlog,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats",
		"-y", outputPath,
	}
	return &port.Plan{
		Invocations: []port.Invocation{
			{Argv: pass1, Phase: "pass1", Weight: twoPassFirstWeight, InputDuration: info.DurationSec},
			{Argv: pass2, OutputPath: outputPath, Phase: "pass2", Weight: 1 - twoPassFirstWeight, InputDuration: info.DurationSec},
		},
		ResultPath: outputPath,
	}, nil
}

func (b *Builder) buildConvert(ctx context.Context, req port.BuildRequest) (*port.Plan, error) {
	var p domain.ConvertParams
	if err := json.Unmarshal(orEmpty(req.Params), &p); err != nil {
		return nil, fmt.Errorf("decode convert params: %w", err)
	}

	outputPath := filepath.Join(req.OutputDir, req.JobID+"."+p.Container)
	args := []string{b.ffmpegPath, "-i", req.InputPath}

	switch {
	case p.AudioOnly:
		args = append(args, "-vn")
		if p.Codec != "" {
			args = append(args, "-c:a", p.Codec)
		}
	case p.Codec != "":
		args = append(args, "-c:v", p.Codec, "-c:a", "aac", "-b:a", "128k")
	default:
		// Container-only remux when no codec was requested.
		args = append(args, "-c", "copy")
	}
	if p.Container == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-progress", "pipe:1", "-nostats", "-y", outputPath)

	info, err := probe(ctx, b.ffprobePath, req.InputPath)
	if err != nil {
		info = mediaInfo{}
	}

	return &port.Plan{
		Invocations: []port.Invocation{{
			Argv:          args,
			OutputPath:    outputPath,
			Phase:         "convert",
			Weight:        1,
			InputDuration: info.DurationSec,
		}},
		ResultPath: outputPath,
	}, nil
}

func (b *Builder) buildTrim(req port.BuildRequest) (*port.Plan, error) {
	var p domain.TrimParams
	if err := json.Unmarshal(orEmpty(req.Params), &p); err != nil {
		return nil, fmt.Errorf("decode trim params: %w", err)
	}

	outputPath := filepath.Join(req.OutputDir, req.JobID+"_trimmed"+filepath.Ext(req.InputPath))
	args := []string{
		b.ffmpegPath,
		"-ss", formatSeconds(p.StartSec),
		"-to", formatSeconds(p.EndSec),
		"-i", req.InputPath,
	}
	if p.Reencode {
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-progress", "pipe:1", "-nostats", "-y", outputPath)

	return &port.Plan{
		Invocations: []port.Invocation{{
			Argv:       args,
			OutputPath: outputPath,
			Phase:      "trim",
			Weight:     1,
			// The encoder's elapsed time runs over the clip, not the source.
			InputDuration: p.EndSec - p.StartSec,
		}},
		ResultPath: outputPath,
	}, nil
}

func (b *Builder) buildGif(req port.BuildRequest) (*port.Plan, error) {
	var p domain.GifParams
	if err := json.Unmarshal(orEmpty(req.Params), &p); err != nil {
		return nil, fmt.Errorf("decode gif params: %w", err)
	}
	fps := p.Fps
	if fps == 0 {
		fps = 10
	}
	width := p.Width
	if width == 0 {
		width = 480
	}

	clipLen := p.EndSec - p.StartSec
	outputPath := filepath.Join(req.OutputDir, req.JobID+".gif")
	filter := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", fps, width)

	if !p.Optimize {
		args := []string{
			b.ffmpegPath,
			"-ss", formatSeconds(p.StartSec),
			"-to", formatSeconds(p.EndSec),
			"-i", req.InputPath,
			"-vf", filter,
			"-progress", "pipe:1", "-nostats",
			"-y", outputPath,
		}
		return &port.Plan{
			Invocations: []port.Invocation{{
				Argv:          args,
				OutputPath:    outputPath,
				Phase:         "gif",
				Weight:        1,
				InputDuration: clipLen,
			}},
			ResultPath: outputPath,
		}, nil
	}

	palettePath := filepath.Join(req.OutputDir, req.JobID+"_palette.png")
	palette := []string{
		b.ffmpegPath,
		"-ss", formatSeconds(p.StartSec),
		"-to", formatSeconds(p.EndSec),
		"-i", req.InputPath,
		"-vf", filter + ",palettegen",
		"-progress", "pipe:1", "-nostats",
		"-y", palettePath,
	}
	encode := []string{
		b.ffmpegPath,
		"-ss", formatSeconds(p.StartSec),
		"-to", formatSeconds(p.EndSec),
		"-i", req.InputPath,
		"-i", palettePath,
		"-filter_complex", filter + "[x];[x][1:v]paletteuse",
		"-progress", "pipe:1", "-nostats",
		"-y", outputPath,
	}
	return &port.Plan{
		Invocations: []port.Invocation{
			{Argv: palette, OutputPath: palettePath, Phase: "palette", Weight: paletteWeight, InputDuration: clipLen},
			{Argv: encode, OutputPath: outputPath, Phase: "encode", Weight: 1 - paletteWeight, InputDuration: clipLen},
		},
		ResultPath: outputPath,
	}, nil
}

func (b *Builder) buildThumbnail(req port.BuildRequest) (*port.Plan, error) {
	var p domain.ThumbnailParams
	if err := json.Unmarshal(orEmpty(req.Params), &p); err != nil {
		return nil, fmt.Errorf("decode thumbnail params: %w", err)
	}
	if len(p.TimestampsSec) == 0 {
		return nil, fmt.Errorf("no valid thumbnail timestamps")
	}
	width := p.Width
	if width == 0 {
		width = 320
	}

	thumbsDir := filepath.Join(req.OutputDir, req.JobID+"_thumbs")
	if err := os.MkdirAll(thumbsDir, 0755); err != nil {
		return nil, fmt.Errorf("create thumbnail directory: %w", err)
	}

	n := len(p.TimestampsSec)
	invocations := make([]port.Invocation, 0, n)
	for i, ts := range p.TimestampsSec {
		outputPath := filepath.Join(thumbsDir, fmt.Sprintf("thumb_%02d.jpg", i+1))
		args := []string{
			b.ffmpegPath,
			"-ss", formatSeconds(ts),
			"-i", req.InputPath,
			"-vframes", "1",
			"-vf", fmt.Sprintf("scale=%d:-1", width),
			"-f", "image2",
			"-y", outputPath,
		}
		invocations = append(invocations, port.Invocation{
			Argv:       args,
			OutputPath: outputPath,
			Phase:      fmt.Sprintf("thumbnail %d/%d", i+1, n),
			Weight:     1 / float64(n),
		})
	}
	return &port.Plan{Invocations: invocations, ResultPath: thumbsDir}, nil
}

func (b *Builder) buildFrameExtract(ctx context.Context, req port.BuildRequest) (*port.Plan, error) {
	var p domain.FrameExtractParams
	if err := json.Unmarshal(orEmpty(req.Params), &p); err != nil {
		return nil, fmt.Errorf("decode frame extract params: %w", err)
	}
	format := defaultStr(p.Format, "png")

	framesDir := filepath.Join(req.OutputDir, req.JobID+"_frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}

	info, err := probe(ctx, b.ffprobePath, req.InputPath)
	if err != nil {
		info = mediaInfo{}
	}

	span := info.DurationSec - p.StartSec
	if p.EndSec > 0 {
		span = p.EndSec - p.StartSec
	}

	// When the extraction rate and time span are both known the total
	// frame count is too, which lets progress come straight from the
	// encoder's frame counter.
	var totalFrames int64
	rate := float64(p.Fps)
	if rate == 0 {
		rate = info.FrameRate
	}
	if span > 0 && rate > 0 {
		totalFrames = int64(span * rate)
	}

	args := []string{b.ffmpegPath, "-ss", formatSeconds(p.StartSec)}
	if p.EndSec > 0 {
		args = append(args, "-to", formatSeconds(p.EndSec))
	}
	args = append(args, "-i", req.InputPath)
	if p.Fps > 0 {
		args = append(args, "-vf", fmt.Sprintf("fps=%d", p.Fps))
	}
	args = append(args,
		"-progress", "pipe:1", "-nostats",
		"-y", filepath.Join(framesDir, "frame_%05d."+format),
	)

	return &port.Plan{
		Invocations: []port.Invocation{{
			Argv:          args,
			OutputPath:    framesDir,
			Phase:         "frames",
			Weight:        1,
			InputDuration: span,
			TotalFrames:   totalFrames,
		}},
		ResultPath: framesDir,
	}, nil
}

func formatSeconds(sec float64) string {
	return fmt.Sprintf("%.3f", sec)
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

var _ port.InvocationBuilder = (*Builder)(nil)
