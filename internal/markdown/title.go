// Package markdown derives note titles from polished Markdown text and
// renders note bodies to HTML for display.
package markdown

import (
	"regexp"
	"strings"
)

const (
	maxTitleLength = 60
	minTitleLength = 3
)

var (
	headingRe = regexp.MustCompile(`^#+\s*`)
	// Leading list/heading/quote markers, brackets, and ordered-list digits.
	leadingMarkersRe = regexp.MustCompile("^[\\*_`#\\->\\s\\[\\]\\(.\\d\\)]+")
	// Trailing emphasis markers.
	trailingMarkersRe = regexp.MustCompile("[\\*_`#]+$")
)

// DeriveTitle extracts a title from polished Markdown text. It prefers the
// first heading line; otherwise it falls back to the first non-empty line
// with surrounding markup stripped, truncated to 60 runes. It returns ""
// when no usable line is found, in which case the caller keeps its
// placeholder title.
//
// This is a best-effort heuristic, not a guaranteed-correct one.
func DeriveTitle(polished string) string {
	lines := strings.Split(polished, "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(headingRe.ReplaceAllString(line, "")); title != "" {
				return title
			}
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		candidate := leadingMarkersRe.ReplaceAllString(line, "")
		candidate = trailingMarkersRe.ReplaceAllString(candidate, "")
		candidate = strings.TrimSpace(candidate)
		if len([]rune(candidate)) > minTitleLength {
			return truncate(candidate, maxTitleLength)
		}
	}

	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
