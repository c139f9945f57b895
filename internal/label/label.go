// Package label extracts structured source events from the accessibility
// labels and detail panes a calendar web UI exposes for each meeting.
package label

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"calsync/internal/datetime"
	"calsync/internal/model"
)

// ErrNotParseable is returned when no label pattern matches.
var ErrNotParseable = errors.New("label: not parseable")

// RawEvent is what the scraper hands over for one UI-visible meeting.
type RawEvent struct {
	Label           string
	DescriptionHTML string
	Participants    []string

	// DetailsMissing is set when the event's details were requested but
	// could not be read, so DescriptionHTML says nothing about the body.
	DetailsMissing bool
}

// Pattern is one label layout. The expression must define the named groups
// title, start, end and date.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

const (
	timeExpr = `\d{1,2}:\d{2}(?:\s?[AaPp]\.?[Mm]\.?)?|\d{1,2}\s?[AaPp]\.?[Mm]\.?|\d{1,2}\s?h\s?\d{2}`
	// An optional weekday, then "Month Day" or "Day Month", then an optional
	// four-digit year. Parse also requires a month name in the date, which
	// anchors it when the year is missing.
	dateExpr = `(?:\p{L}+\.?,?\s+)?(?:\p{L}+\.?\s+\d{1,2}(?:st|nd|rd|th)?|\d{1,2}(?:er|st|nd|rd|th)?\.?\s+\p{L}+\.?)(?:,?\s+\d{4})?`
)

func newPattern(name, sep string) Pattern {
	expr := `^(?P<title>.+), (?P<start>` + timeExpr + `) ` + sep + ` (?P<end>` + timeExpr + `), (?P<date>` + dateExpr + `)(?:, .*)?$`
	return Pattern{Name: name, Re: regexp.MustCompile(expr)}
}

// DefaultPatterns is tried in order; the first match is authoritative.
var DefaultPatterns = []Pattern{
	newPattern("en", "to"),
	newPattern("fr", "à"),
}

// Parser turns RawEvent values into model.SourceEvent.
type Parser struct {
	Patterns []Pattern
}

// Default is the parser used by Parse.
var Default = &Parser{Patterns: DefaultPatterns}

// Parse parses raw with Default.
func Parse(raw RawEvent) (model.SourceEvent, error) { return Default.Parse(raw) }

// Parse extracts title, date and times from raw.Label, cleans the description
// and normalizes participants.
func (p *Parser) Parse(raw RawEvent) (model.SourceEvent, error) {
	lbl := collapseSpaces(raw.Label)
	for _, pat := range p.Patterns {
		m := pat.Re.FindStringSubmatch(lbl)
		if m == nil {
			continue
		}
		get := func(name string) string {
			return strings.TrimSpace(m[pat.Re.SubexpIndex(name)])
		}
		date := get("date")
		if !mentionsMonth(date) {
			continue
		}
		title := get("title")
		if title == "" {
			continue
		}
		return model.SourceEvent{
			Title:        title,
			Date:         date,
			StartTime:    get("start"),
			EndTime:      get("end"),
			Description:  CleanDescription(raw.DescriptionHTML),
			Participants: Participants(raw.Participants),

			DescriptionUnknown: raw.DetailsMissing,
		}, nil
	}
	return model.SourceEvent{}, fmt.Errorf("%w: %q", ErrNotParseable, raw.Label)
}

func mentionsMonth(date string) bool {
	words := strings.FieldsFunc(date, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if datetime.IsMonthName(w) {
			return true
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
