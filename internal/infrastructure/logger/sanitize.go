package logger

import (
	"fmt"
	"strings"
)

// maxLogLineLen bounds sanitized strings; encoder output lines can run to
// kilobytes of filter-graph dumps.
const maxLogLineLen = 512

// SanitizeForLog escapes control characters so untrusted text (job input
// references, encoder output) cannot forge log entries or emit terminal
// escape sequences. Unicode text passes through; newlines, tabs, null bytes
// and other control characters become escapes, and overlong lines are
// truncated.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	n := 0
	for _, r := range s {
		if n >= maxLogLineLen {
			result.WriteString("...")
			break
		}
		n++
		switch r {
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		case '\t':
			result.WriteString("\\t")
		case '\x00':
			result.WriteString("\\x00")
		default:
			if r < 32 || r == 127 || r == '\x1b' {
				result.WriteString(fmt.Sprintf("\\x%02x", r))
			} else {
				result.WriteRune(r)
			}
		}
	}
	return result.String()
}
