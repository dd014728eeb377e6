// Package logsanitize strips control characters from strings that
// originate outside the process (model ids, correlation ids, raw RPC
// params) before they reach a log line.
package logsanitize

import (
	"strings"
	"unicode"
)

// maxLength is the longest sanitized string this package will return before
// truncating; external input has no natural bound and logs should stay
// readable.
const maxLength = 100

// String sanitizes s for safe logging by escaping or removing control
// characters that could otherwise be used to inject fake log lines.
func String(s string) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString("\\n")
		case r == '\r':
			result.WriteString("\\r")
		case r == '\t':
			result.WriteString("\\t")
		case r == '\\':
			result.WriteString("\\\\")
		case unicode.IsControl(r):
			result.WriteString("?")
		case unicode.IsPrint(r):
			result.WriteRune(r)
		default:
			result.WriteString("?")
		}
	}

	if result.Len() > maxLength {
		return result.String()[:maxLength] + "...[truncated]"
	}
	return result.String()
}
