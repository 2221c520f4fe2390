package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind parameters are supplied at job creation, validated before enqueue and
// never mutated afterwards. They travel with the job record as raw JSON and
// are decoded by the runner that owns the kind.

type CompressParams struct {
	Codec   string `json:"codec"`   // e.g. "libx264", "libaom-av1"
	Preset  string `json:"preset"`  // e.g. "medium"
	CRF     int    `json:"crf"`     // 0 = codec default
	TwoPass bool   `json:"two_pass"`
}

func (p CompressParams) Validate() error {
	if p.CRF < 0 || p.CRF > 51 {
		return fmt.Errorf("crf %d out of range [0,51]", p.CRF)
	}
	return nil
}

type ConvertParams struct {
	Container string `json:"container"` // e.g. "mp4", "webm", "ogg"
	Codec     string `json:"codec"`
	AudioOnly bool   `json:"audio_only"`
}

func (p ConvertParams) Validate() error {
	if strings.TrimSpace(p.Container) == "" {
		return fmt.Errorf("container is required")
	}
	return nil
}

type TrimParams struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Reencode bool    `json:"reencode"`
}

func (p TrimParams) Validate() error {
	if p.StartSec < 0 {
		return fmt.Errorf("start %.3f is negative", p.StartSec)
	}
	if p.EndSec <= p.StartSec {
		return fmt.Errorf("end %.3f must be after start %.3f", p.EndSec, p.StartSec)
	}
	return nil
}

type GifParams struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Fps      int     `json:"fps"`
	Width    int     `json:"width"`
	Optimize bool    `json:"optimize"` // palette pass before encoding
}

func (p GifParams) Validate() error {
	if p.EndSec <= p.StartSec {
		return fmt.Errorf("end %.3f must be after start %.3f", p.EndSec, p.StartSec)
	}
	if p.Fps < 0 || p.Fps > 60 {
		return fmt.Errorf("fps %d out of range [0,60]", p.Fps)
	}
	return nil
}

type ThumbnailParams struct {
	TimestampsSec []float64 `json:"timestamps_sec"`
	Width         int       `json:"width"`
}

func (p ThumbnailParams) Validate() error {
	if len(p.TimestampsSec) == 0 {
		return fmt.Errorf("at least one timestamp is required")
	}
	for _, ts := range p.TimestampsSec {
		if ts < 0 {
			return fmt.Errorf("timestamp %.3f is negative", ts)
		}
	}
	return nil
}

type FrameExtractParams struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Fps      int     `json:"fps"` // frames per second to extract, 0 = every frame
	Format   string  `json:"format"`
}

func (p FrameExtractParams) Validate() error {
	if p.EndSec > 0 && p.EndSec <= p.StartSec {
		return fmt.Errorf("end %.3f must be after start %.3f", p.EndSec, p.StartSec)
	}
	if p.Fps < 0 {
		return fmt.Errorf("fps %d is negative", p.Fps)
	}
	return nil
}

// ValidateParams decodes and validates the raw parameter payload for a kind.
// The submission path calls this before the job is persisted or enqueued.
func ValidateParams(kind JobKind, raw []byte) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()

	var err error
	switch kind {
	case JobKindCompress:
		var p CompressParams
		if err = dec.Decode(&p); err == nil {
			err = p.Validate()
		}
	case JobKindConvert:
		var p ConvertParams
		if err = dec.Decode(&p); err == nil {
			err = p.Validate()
		}
	case JobKindTrim:
		var p TrimParams
		if err = dec.Decode(&p); err == nil {
			err = p.Validate()
		}
	case JobKindGif:
		var p GifParams
		if err = dec.Decode(&p); err == nil {
			err = p.Validate()
		}
	case JobKindThumbnail:
		var p ThumbnailParams
		if err = dec.Decode(&p); err == nil {
			err = p.Validate()
		}
	case JobKindFrameExtract:
		var p FrameExtractParams
		if err = dec.Decode(&p); err == nil {
			err = p.Validate()
		}
	default:
		return fmt.Errorf("unknown job kind: %s", kind)
	}
	if err != nil {
		return fmt.Errorf("invalid %s parameters: %w", kind, err)
	}
	return nil
}
