// Package datetime turns the free-text dates and times shown by calendar
// web UIs into canonical calendar dates and times of day.
//
// Every locale is an explicit table of month and weekday names; nothing here
// touches process-wide locale state.
package datetime

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNotParseable is returned when no strategy recognizes the input.
var ErrNotParseable = errors.New("datetime: not parseable")

// CalendarDate is a civil date with no zone attached.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// NewCalendarDate validates y-m-d against the real calendar.
func NewCalendarDate(year int, month time.Month, day int) (CalendarDate, bool) {
	if month < time.January || month > time.December || day < 1 || year < 1 {
		return CalendarDate{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return CalendarDate{}, false
	}
	return CalendarDate{Year: year, Month: month, Day: day}, true
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) CalendarDate {
	return CalendarDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before reports whether d is strictly earlier than o.
func (d CalendarDate) Before(o CalendarDate) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// In returns midnight of d in loc.
func (d CalendarDate) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ClockOf returns the wall-clock time of t in t's own location.
func ClockOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Format24 renders "15:04".
func (t TimeOfDay) Format24() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Format12 renders "3:04 PM".
func (t TimeOfDay) Format12() string {
	h := t.Hour % 12
	if h == 0 {
		h = 12
	}
	meridiem := "AM"
	if t.Hour >= 12 {
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, t.Minute, meridiem)
}

func (t TimeOfDay) String() string { return t.Format24() }

// Instant is a (date, time-of-day) pair used for comparisons only.
type Instant struct {
	Date CalendarDate
	Time TimeOfDay
}

// In places the instant in loc.
func (i Instant) In(loc *time.Location) time.Time {
	return time.Date(i.Date.Year, i.Date.Month, i.Date.Day, i.Time.Hour, i.Time.Minute, 0, 0, loc)
}

// simplify lower-cases, strips diacritics and collapses every kind of
// Unicode space (Outlook emits U+202F before AM/PM) into a single ASCII one.
func simplify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.FieldsFunc(strings.ToLower(folded), unicode.IsSpace), " ")
}
