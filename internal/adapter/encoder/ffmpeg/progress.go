package ffmpeg

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mediaforge/mediaforge/internal/port"
)

// progressParser turns ffmpeg's unstructured output into percentages. Three
// strategies are tried per line, first successful parse wins:
//
//  1. an explicit percentage marker
//  2. frame counter against a known total frame count
//  3. elapsed output time against the total duration, either the duration
//     announced up front in the invocation or the "Duration:" header ffmpeg
//     prints before encoding starts
//
// Values are clamped to [0,100] and rounded to one decimal place.
type progressParser struct {
	totalSeconds float64
	totalFrames  int64
}

var (
	percentRe  = regexp.MustCompile(`(?:^|\s)progress[=:]\s*([0-9]+(?:\.[0-9]+)?)%?`)
	frameRe    = regexp.MustCompile(`^frame=\s*([0-9]+)`)
	timeRe     = regexp.MustCompile(`(?:^|\s)(?:out_)?time=\s*([0-9]+:[0-9]{2}:[0-9]{2}(?:\.[0-9]+)?)`)
	durationRe = regexp.MustCompile(`Duration:\s*([0-9]+:[0-9]{2}:[0-9]{2}(?:\.[0-9]+)?)`)
)

func newProgressParser(inv port.Invocation) *progressParser {
	return &progressParser{
		totalSeconds: inv.InputDuration,
		totalFrames:  inv.TotalFrames,
	}
}

func (pp *progressParser) Parse(line string) (float64, bool) {
	// The header announces the total duration before any progress lines;
	// remember it when the invocation did not carry one.
	if pp.totalSeconds <= 0 {
		if m := durationRe.FindStringSubmatch(line); len(m) > 1 {
			pp.totalSeconds = timeToSeconds(m[1])
			return 0, false
		}
	}

	if m := percentRe.FindStringSubmatch(line); len(m) > 1 {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clampRound(pct), true
		}
	}

	if pp.totalFrames > 0 {
		if m := frameRe.FindStringSubmatch(line); len(m) > 1 {
			if frame, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return clampRound(float64(frame) / float64(pp.totalFrames) * 100), true
			}
		}
	}

	if pp.totalSeconds > 0 {
		// -progress pipe:1 emits out_time_ms as a bare key=value. Despite
		// the name the field is in microseconds, same as out_time_us.
		if strings.HasPrefix(line, "out_time_ms=") {
			if us, err := strconv.ParseFloat(line[len("out_time_ms="):], 64); err == nil {
				return clampRound(us / 1e6 / pp.totalSeconds * 100), true
			}
			return 0, false
		}
		if m := timeRe.FindStringSubmatch(line); len(m) > 1 {
			if elapsed := timeToSeconds(m[1]); elapsed > 0 {
				return clampRound(elapsed / pp.totalSeconds * 100), true
			}
		}
	}

	return 0, false
}

func clampRound(pct float64) float64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}

// timeToSeconds converts ffmpeg's HH:MM:SS.cc format to seconds.
func timeToSeconds(s string) float64 {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.ParseFloat(parts[0], 64)
	minutes, err2 := strconv.ParseFloat(parts[1], 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return hours*3600 + minutes*60 + seconds
}
