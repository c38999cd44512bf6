package extract

import (
	"regexp"
	"strings"
)

// Catalog stores reject NUL bytes outright; the rest of this control
// class corrupts previews and search snippets.
var (
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Clean strips NUL and control bytes, collapses whitespace runs and
// trims. Every extraction path funnels its output through here.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\x00", "")
	text = controlRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
