package datetime

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DatePattern is one (layout, locale) strategy. Patterns are tried in order
// and the first one that fully matches and yields a real date wins.
type DatePattern struct {
	Name    string
	Locale  Locale
	Extract func(l Locale, s string) (CalendarDate, bool)
}

var (
	// "wednesday, july 30, 2025", "jul 30 2025", "july 30th, 2025", "july 30"
	monthFirstRe = regexp.MustCompile(`^(?:(\p{L}+)\.?,?\s+)?(\p{L}+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?,?$`)
	// "mercredi 30 juillet 2025", "1er aout 2025", "wed, 30 jul 2025", "mercredi 30 juillet"
	dayFirstRe = regexp.MustCompile(`^(?:(\p{L}+)\.?,?\s+)?(\d{1,2})(?:er|st|nd|rd|th)?\.?\s+(\p{L}+)\.?(?:,?\s+(\d{4}))?,?$`)

	leadingWordRe = regexp.MustCompile(`^(\p{L}+)\.?,?\s+`)

	clock24Re = regexp.MustCompile(`^(\d{1,2})\s?[:h]\s?(\d{2})$`)
	clock12Re = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s?([ap])\.?m\.?$`)
)

func extractMonthFirst(l Locale, s string) (CalendarDate, bool) {
	m := monthFirstRe.FindStringSubmatch(s)
	if m == nil {
		return CalendarDate{}, false
	}
	return buildDate(l, m[1], m[2], m[3], m[4])
}

func extractDayFirst(l Locale, s string) (CalendarDate, bool) {
	m := dayFirstRe.FindStringSubmatch(s)
	if m == nil {
		return CalendarDate{}, false
	}
	return buildDate(l, m[1], m[3], m[2], m[4])
}

// buildDate returns a date with Year 0 when year is empty. Such a date has
// only been checked against a leap year.
func buildDate(l Locale, weekday, month, day, year string) (CalendarDate, bool) {
	if weekday != "" && !l.weekday(weekday) {
		return CalendarDate{}, false
	}
	mon, ok := l.month(month)
	if !ok {
		return CalendarDate{}, false
	}
	d, _ := strconv.Atoi(day)
	if year == "" {
		if _, ok := NewCalendarDate(2000, mon, d); !ok {
			return CalendarDate{}, false
		}
		return CalendarDate{Month: mon, Day: d}, true
	}
	y, _ := strconv.Atoi(year)
	return NewCalendarDate(y, mon, d)
}

// nearestYear gives a year-less date the year, among the one of ref and its
// neighbours, that puts it closest to ref.
func nearestYear(d CalendarDate, ref CalendarDate) (CalendarDate, bool) {
	var best CalendarDate
	var bestDist time.Duration
	found := false
	anchor := ref.In(time.UTC)
	for y := ref.Year - 1; y <= ref.Year+1; y++ {
		c, ok := NewCalendarDate(y, d.Month, d.Day)
		if !ok {
			continue
		}
		dist := c.In(time.UTC).Sub(anchor)
		if dist < 0 {
			dist = -dist
		}
		if !found || dist < bestDist {
			best, bestDist, found = c, dist, true
		}
	}
	return best, found
}

// DefaultDatePatterns is the priority order used by Default.
var DefaultDatePatterns = []DatePattern{
	{Name: "en weekday, month day, year", Locale: English, Extract: extractMonthFirst},
	{Name: "fr weekday day month year", Locale: French, Extract: extractDayFirst},
	{Name: "en weekday day month year", Locale: English, Extract: extractDayFirst},
}

// Normalizer parses dates and times. The zero value has no date patterns
// but still runs the generic fallback.
type Normalizer struct {
	Dates []DatePattern
	// NoFallback disables the generic parser tried after all patterns.
	NoFallback bool
}

// Default is the normalizer used by the package-level helpers.
var Default = &Normalizer{Dates: DefaultDatePatterns}

// NormalizeDate parses text with Default.
func NormalizeDate(text string) (CalendarDate, error) { return Default.Date(text) }

// NormalizeTime parses text with Default.
func NormalizeTime(text string) (TimeOfDay, error) { return Default.Time(text) }

// Date returns the calendar date named by text. A text without a year is
// not parseable here; see DateNear.
func (n *Normalizer) Date(text string) (CalendarDate, error) {
	return n.DateNear(text, time.Time{})
}

// DateNear is Date, except that a text without a year takes the year that
// puts it closest to the civil date of ref. A zero ref disables that.
func (n *Normalizer) DateNear(text string, ref time.Time) (CalendarDate, error) {
	s := simplify(text)
	if s == "" {
		return CalendarDate{}, ErrNotParseable
	}
	for _, p := range n.Dates {
		d, ok := p.Extract(p.Locale, s)
		if !ok {
			continue
		}
		if d.Year != 0 {
			return d, nil
		}
		if ref.IsZero() {
			continue
		}
		if d, ok := nearestYear(d, DateOf(ref)); ok {
			return d, nil
		}
	}
	if n.NoFallback {
		return CalendarDate{}, ErrNotParseable
	}
	if d, ok := fallbackDate(s); ok {
		return d, nil
	}
	return CalendarDate{}, ErrNotParseable
}

// fallbackDate hands the text to dateparse, first as-is and then without a
// leading weekday word, which dateparse does not understand in every layout.
func fallbackDate(s string) (CalendarDate, bool) {
	candidates := []string{s}
	if m := leadingWordRe.FindStringSubmatch(s); m != nil && (English.weekday(m[1]) || French.weekday(m[1])) {
		candidates = append(candidates, s[len(m[0]):])
	}
	for _, c := range candidates {
		t, err := dateparse.ParseIn(c, time.UTC)
		if err != nil {
			continue
		}
		if d, ok := NewCalendarDate(t.Year(), t.Month(), t.Day()); ok {
			return d, true
		}
	}
	return CalendarDate{}, false
}

// Time returns the time of day named by text: 24-hour "HH:MM" first, then
// 12-hour "H:MM AM".
func (n *Normalizer) Time(text string) (TimeOfDay, error) {
	s := simplify(text)
	if m := clock24Re.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h <= 23 && mm <= 59 {
			return TimeOfDay{Hour: h, Minute: mm}, nil
		}
		return TimeOfDay{}, ErrNotParseable
	}
	if m := clock12Re.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		if h < 1 || h > 12 || mm > 59 {
			return TimeOfDay{}, ErrNotParseable
		}
		h %= 12
		if strings.EqualFold(m[3], "p") {
			h += 12
		}
		return TimeOfDay{Hour: h, Minute: mm}, nil
	}
	return TimeOfDay{}, ErrNotParseable
}

// Instant combines a date and a time string.
func (n *Normalizer) Instant(date, clock string) (Instant, error) {
	return n.InstantNear(date, clock, time.Time{})
}

// InstantNear is Instant with the date resolved by DateNear.
func (n *Normalizer) InstantNear(date, clock string, ref time.Time) (Instant, error) {
	d, err := n.DateNear(date, ref)
	if err != nil {
		return Instant{}, err
	}
	t, err := n.Time(clock)
	if err != nil {
		return Instant{}, err
	}
	return Instant{Date: d, Time: t}, nil
}
