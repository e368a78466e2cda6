package extract

import (
	"regexp"
	"strings"
)

var blankLines = regexp.MustCompile(`\n(?:[ \t]*\n)+`)

// Normalize unifies line endings, collapses runs of newlines and trims.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
