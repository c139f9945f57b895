package datetime

import "time"

// Locale holds the month and weekday names of one language, stored in the
// simplified form produced by simplify (lower case, no diacritics).
type Locale struct {
	Name     string
	Months   map[string]time.Month
	Weekdays map[string]time.Weekday
}

func (l Locale) month(s string) (time.Month, bool) {
	m, ok := l.Months[s]
	return m, ok
}

func (l Locale) weekday(s string) bool {
	_, ok := l.Weekdays[s]
	return ok
}

var English = Locale{
	Name: "en",
	Months: map[string]time.Month{
		"january": time.January, "jan": time.January,
		"february": time.February, "feb": time.February,
		"march": time.March, "mar": time.March,
		"april": time.April, "apr": time.April,
		"may":  time.May,
		"june": time.June, "jun": time.June,
		"july": time.July, "jul": time.July,
		"august": time.August, "aug": time.August,
		"september": time.September, "sep": time.September, "sept": time.September,
		"october": time.October, "oct": time.October,
		"november": time.November, "nov": time.November,
		"december": time.December, "dec": time.December,
	},
	Weekdays: map[string]time.Weekday{
		"sunday": time.Sunday, "sun": time.Sunday,
		"monday": time.Monday, "mon": time.Monday,
		"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
		"wednesday": time.Wednesday, "wed": time.Wednesday,
		"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
		"friday": time.Friday, "fri": time.Friday,
		"saturday": time.Saturday, "sat": time.Saturday,
	},
}

var French = Locale{
	Name: "fr",
	Months: map[string]time.Month{
		"janvier": time.January, "janv": time.January,
		"fevrier": time.February, "fevr": time.February, "fev": time.February,
		"mars":  time.March,
		"avril": time.April, "avr": time.April,
		"mai":  time.May,
		"juin": time.June,
		"juillet": time.July, "juil": time.July,
		"aout":      time.August,
		"septembre": time.September, "sept": time.September,
		"octobre": time.October, "oct": time.October,
		"novembre": time.November, "nov": time.November,
		"decembre": time.December, "dec": time.December,
	},
	Weekdays: map[string]time.Weekday{
		"dimanche": time.Sunday, "dim": time.Sunday,
		"lundi": time.Monday, "lun": time.Monday,
		"mardi": time.Tuesday, "mar": time.Tuesday,
		"mercredi": time.Wednesday, "mer": time.Wednesday,
		"jeudi": time.Thursday, "jeu": time.Thursday,
		"vendredi": time.Friday, "ven": time.Friday,
		"samedi": time.Saturday, "sam": time.Saturday,
	},
}

// IsMonthName reports whether s names a month in any known locale.
func IsMonthName(s string) bool {
	s = simplify(s)
	for _, l := range []Locale{English, French} {
		if _, ok := l.month(s); ok {
			return true
		}
	}
	return false
}
