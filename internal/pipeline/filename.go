package pipeline

import (
	"regexp"
	"strings"
)

const maxFilenameLen = 100

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace   = regexp.MustCompile(`\s+`)
	hyphenRuns   = regexp.MustCompile(`-+`)
)

// SanitizeFilename turns an arbitrary query into a cross-platform-safe
// file name: filesystem-illegal characters stripped, whitespace
// collapsed to single hyphens, no leading/trailing or repeated hyphens,
// bounded length.
func SanitizeFilename(name string) string {
	s := illegalChars.ReplaceAllString(name, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxFilenameLen {
		s = strings.Trim(s[:maxFilenameLen], "-")
	}
	return s
}
