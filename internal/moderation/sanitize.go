package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sanitize trims surrounding space and strips control characters other than
// newline and tab.
func Sanitize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

// ValidLength reports whether s has between lo and hi runes.
func ValidLength(s string, lo, hi int) bool {
	n := utf8.RuneCountInString(s)
	return n >= lo && n <= hi
}
