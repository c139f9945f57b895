package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// instanceSep joins a recurring event UID and an occurrence start to
	// form the remote ID of that occurrence.
	instanceSep = "/"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the zone every occurrence is converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of a single rule. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded remote events and the UIDs that hit the
// per-event cap.
type ExpandResult struct {
	Events          []model.RemoteEvent
	TruncatedEvents []string
}

// ExpandOccurrences turns stored events into the concrete remote events that
// fall in the configured window. It applies RRULE, EXDATE and RECURRENCE-ID
// overrides, and leaves out cancelled and all-day events, which timed
// meetings are never matched against.
//
// Single events get their UID as ID; occurrences of a rule get
// "<uid>/<start in UTC>".
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases, overridesByUID := splitOverrides(events)

	out := make([]model.RemoteEvent, 0)
	for _, ev := range bases {
		var occ []model.RemoteEvent
		if ev.RawRRule == "" {
			occ = expandSingleEvent(ev, cfg)
		} else {
			var hitCap bool
			occ, hitCap = expandRecurringEvent(ev, overridesByUID[ev.UID], cfg)
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
				appLog.Error("expand: truncated occurrences for UID due to cap",
					errors.New("max occurrences reached"),
					"uid", ev.UID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
		}
		out = append(out, occ...)
	}

	result.Events = out
	return result, nil
}

func splitOverrides(events []ParsedEvent) ([]ParsedEvent, map[string][]ParsedEvent) {
	bases := make([]ParsedEvent, 0, len(events))
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}
	return bases, overrides
}

func expandSingleEvent(ev ParsedEvent, cfg ExpandConfig) []model.RemoteEvent {
	if !visible(ev) || !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.RemoteEvent{makeRemote(ev.UID, ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RemoteEvent, bool) {
	out := make([]model.RemoteEvent, 0)
	if ev.AllDay || ev.Status == "CANCELLED" {
		return out, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	for _, occStart := range occTimes {
		id := InstanceID(ev.UID, occStart)
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if !visible(o) {
				continue
			}
			out = append(out, makeRemote(id, o, o.Start, o.End, cfg.DisplayLocation))
			continue
		}
		out = append(out, makeRemote(id, ev, occStart, occStart.Add(dur), cfg.DisplayLocation))
	}

	return out, hitCap
}

func visible(ev ParsedEvent) bool {
	return !ev.AllDay && ev.Status != "CANCELLED"
}

// InstanceID names one occurrence of a recurring event.
func InstanceID(uid string, start time.Time) string {
	return uid + instanceSep + formatICSTime(start)
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeRemote(id string, ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.RemoteEvent {
	return model.RemoteEvent{
		ID:          id,
		Title:       ev.Summary,
		Start:       start.In(displayLoc),
		End:         end.In(displayLoc),
		Description: ev.Description,
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
