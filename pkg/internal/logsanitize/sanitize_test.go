package logsanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "hello world", "hello world"},
		{"newline escaped", "line1\nline2", "line1\\nline2"},
		{"carriage return escaped", "a\rb", "a\\rb"},
		{"tab escaped", "a\tb", "a\\tb"},
		{"backslash escaped", `a\b`, `a\\b`},
		{"control char replaced", "a\x00b", "a?b"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.want, String(c.in))
		})
	}
}

func TestStringTruncatesLongInput(t *testing.T) {
	in := strings.Repeat("a", 500)
	out := String(in)
	assert.True(t, strings.HasSuffix(out, "...[truncated]"))
	assert.Less(t, len(out), len(in))
}
