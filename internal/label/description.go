package label

import (
	"regexp"
	"strings"
)

// LineBreak is the only markup left in a cleaned description.
const LineBreak = "<br>"

const marker = "\x00"

var (
	breakTagRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockTagRe = regexp.MustCompile(`(?i)</?(?:div|p)(?:\s[^>]*)?/?>`)
	anyTagRe   = regexp.MustCompile(`<[^>]*>`)
	markerRun  = regexp.MustCompile(`\s*(?:\x00\s*)+`)
)

// CleanDescription reduces an HTML fragment to text with <br> line breaks.
// Each div/p tag becomes a line break, other tags are dropped, runs of
// breaks collapse to one and leading/trailing breaks and whitespace are
// trimmed. Cleaning a cleaned description returns it unchanged.
func CleanDescription(html string) string {
	s := strings.ReplaceAll(html, marker, "")
	s = breakTagRe.ReplaceAllString(s, marker)
	s = blockTagRe.ReplaceAllString(s, marker)
	s = anyTagRe.ReplaceAllString(s, "")
	s = markerRun.ReplaceAllString(s, marker)
	for {
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, marker), marker))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.ReplaceAll(s, marker, LineBreak)
}
