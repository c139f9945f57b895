package reconcile

import (
	"time"

	"calsync/internal/datetime"
	"calsync/internal/model"
)

// Window is the span of remote events a pass must see.
type Window struct {
	Min time.Time
	Max time.Time
}

// RequiredWindow returns the full-day bounds, in the policy zone, of the
// earliest and latest normalizable source dates: [min 00:00, max+1 00:00).
// Dates without a year are placed near policy.ReferenceNow as Reconcile does.
// ok is false when no source date normalizes, in which case no remote lookup
// is needed.
func (e *Engine) RequiredWindow(sources []model.SourceEvent, policy Policy) (Window, bool) {
	loc := policy.location()
	n := e.normalizer()
	var lo, hi datetime.CalendarDate
	found := false
	for _, src := range sources {
		d, err := n.DateNear(src.Date, policy.reference())
		if err != nil {
			continue
		}
		if !found {
			lo, hi, found = d, d, true
			continue
		}
		if d.Before(lo) {
			lo = d
		}
		if hi.Before(d) {
			hi = d
		}
	}
	if !found {
		return Window{}, false
	}
	return Window{Min: lo.In(loc), Max: hi.In(loc).AddDate(0, 0, 1)}, true
}

// RequiredWindow runs with Default.
func RequiredWindow(sources []model.SourceEvent, policy Policy) (Window, bool) {
	return Default.RequiredWindow(sources, policy)
}
