package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// mediaInfo is what the invocation builder needs to plan progress reporting.
type mediaInfo struct {
	DurationSec float64
	FrameRate   float64
}

// probe runs ffprobe against a local file. A missing duration is not fatal;
// progress falls back to ffmpeg's own Duration header or stays coarse.
func probe(ctx context.Context, ffprobePath, inputPath string) (mediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, ffprobePath, args...)

	output, err := cmd.Output()
	if err != nil {
		return mediaInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType    string `json:"codec_type"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return mediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info mediaInfo
	if result.Format.Duration != "" {
		info.DurationSec, _ = strconv.ParseFloat(result.Format.Duration, 64)
	}
	for _, stream := range result.Streams {
		if stream.CodecType == "video" {
			info.FrameRate = parseFrameRate(stream.AvgFrameRate)
			break
		}
	}
	return info, nil
}

// parseFrameRate handles ffprobe's rational "30000/1001" notation.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
