package label

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Participants normalizes scraped attendee strings. Entries such as
// "Jane Doe <jane@example.com>" reduce to the email; entries without one
// keep their trimmed text. Results are lower-cased and de-duplicated in
// first-seen order. Missing data yields an empty, non-nil slice.
func Participants(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, r := range raw {
		emails := emailRe.FindAllString(r, -1)
		if len(emails) == 0 {
			add(r)
			continue
		}
		for _, e := range emails {
			add(e)
		}
	}
	return out
}
