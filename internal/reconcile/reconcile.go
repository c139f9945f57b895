// Package reconcile diffs a batch of scraped source events against the
// events already in the remote calendar and decides, per source event,
// whether to create, update, delete or leave things alone.
//
// It does no I/O. Callers fetch the remote window and execute the plan.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"calsync/internal/datetime"
	"calsync/internal/model"
)

// Policy is the per-run configuration of a reconciliation pass.
type Policy struct {
	// IgnoreSubstrings excludes any source title containing one of them.
	IgnoreSubstrings []string
	// SelfIdentifier excludes events the user attends in the source
	// calendar already (case-insensitive). Empty disables the rule.
	SelfIdentifier string
	// ReferenceNow is the cutoff for past events.
	ReferenceNow time.Time
	// CancellationPrefixes are checked in order against the title.
	CancellationPrefixes []string
	// Location is the zone source wall-clock times are in. Remote times
	// are compared in this zone too. Nil means time.Local.
	Location *time.Location
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// reference is ReferenceNow seen in the policy zone, so that its civil date
// anchors dates given without a year.
func (p Policy) reference() time.Time {
	if p.ReferenceNow.IsZero() {
		return p.ReferenceNow
	}
	return p.ReferenceNow.In(p.location())
}

// Engine runs reconciliation passes. The zero value uses datetime.Default.
type Engine struct {
	Normalizer *datetime.Normalizer
}

// Default is the engine used by Reconcile.
var Default = &Engine{}

// Reconcile runs a pass with Default.
func Reconcile(sources []model.SourceEvent, remote []model.RemoteEvent, policy Policy) Plan {
	return Default.Reconcile(sources, remote, policy)
}

func (e *Engine) normalizer() *datetime.Normalizer {
	if e.Normalizer == nil {
		return datetime.Default
	}
	return e.Normalizer
}

// Reconcile evaluates each source event in order against these rules,
// stopping at the first that applies:
//
//  1. title contains an ignore substring    -> skip(ignored)
//  2. self identifier among participants    -> skip(self_participant)
//  3. title has a cancellation prefix       -> delete, or skip(cancelled_not_found)
//  4. date or times do not normalize        -> dropped
//  5. start is before policy.ReferenceNow   -> skip(past)
//  6. title matches a remote event          -> skip(unchanged) or update
//  7. otherwise                             -> create
//
// Rule 3 runs before normalization so a cancellation with garbled timing is
// still acted on. Remote events are keyed by title; with duplicate titles
// the last one in remote wins.
func (e *Engine) Reconcile(sources []model.SourceEvent, remote []model.RemoteEvent, policy Policy) Plan {
	plan := Plan{Decisions: make([]Decision, 0, len(sources))}
	if len(sources) == 0 {
		return plan
	}

	index := make(map[string]model.RemoteEvent, len(remote))
	for _, r := range remote {
		index[r.Title] = r
	}

	for i, src := range sources {
		d, drop := e.decide(i, src, index, policy)
		if drop != nil {
			plan.Drops = append(plan.Drops, *drop)
			continue
		}
		plan.Decisions = append(plan.Decisions, d)
	}
	return plan
}

func (e *Engine) decide(i int, src model.SourceEvent, index map[string]model.RemoteEvent, policy Policy) (Decision, *Drop) {
	skip := func(r Reason) Decision {
		return Decision{Index: i, Kind: KindSkip, Reason: r, Event: src}
	}

	if isIgnored(src.Title, policy.IgnoreSubstrings) {
		return skip(ReasonIgnored), nil
	}
	if hasParticipant(src.Participants, policy.SelfIdentifier) {
		return skip(ReasonSelfParticipant), nil
	}
	if original, ok := stripCancellation(src.Title, policy.CancellationPrefixes); ok {
		r, found := index[original]
		if !found {
			return skip(ReasonCancelledNotFound), nil
		}
		return Decision{Index: i, Kind: KindDelete, RemoteID: r.ID, Event: src}, nil
	}

	n := e.normalizer()
	start, err := n.InstantNear(src.Date, src.StartTime, policy.reference())
	if err != nil {
		return Decision{}, &Drop{Index: i, Event: src, Err: fmt.Errorf("start of %q: %w", src.Title, err)}
	}
	end, err := n.InstantNear(src.Date, src.EndTime, policy.reference())
	if err != nil {
		return Decision{}, &Drop{Index: i, Event: src, Err: fmt.Errorf("end of %q: %w", src.Title, err)}
	}

	loc := policy.location()
	input := buildInput(src, start, end, loc)
	if input.Start.Before(policy.ReferenceNow) {
		return skip(ReasonPast), nil
	}

	if r, found := index[src.Title]; found {
		if src.DescriptionUnknown {
			input.Description = r.Description
		}
		if sameEvent(start, end, input.Description, r, loc) {
			return skip(ReasonUnchanged), nil
		}
		return Decision{Index: i, Kind: KindUpdate, RemoteID: r.ID, Event: src, Input: input}, nil
	}
	return Decision{Index: i, Kind: KindCreate, Event: src, Input: input}, nil
}

// buildInput resolves the wall-clock times in loc. An end earlier than the
// start is taken to fall on the next day.
func buildInput(src model.SourceEvent, start, end datetime.Instant, loc *time.Location) model.EventInput {
	s := start.In(loc)
	en := end.In(loc)
	if en.Before(s) {
		en = en.AddDate(0, 0, 1)
	}
	return model.EventInput{
		Title:       src.Title,
		Description: src.Description,
		Start:       s,
		End:         en,
	}
}

// sameEvent compares date, start time-of-day, end time-of-day and
// description. Remote times are compared by civil components in loc.
func sameEvent(start, end datetime.Instant, description string, r model.RemoteEvent, loc *time.Location) bool {
	rs := r.Start.In(loc)
	re := r.End.In(loc)
	return datetime.DateOf(rs) == start.Date &&
		datetime.ClockOf(rs) == start.Time &&
		datetime.ClockOf(re) == end.Time &&
		r.Description == description
}

func isIgnored(title string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(title, s) {
			return true
		}
	}
	return false
}

func hasParticipant(participants []string, self string) bool {
	if self == "" {
		return false
	}
	for _, p := range participants {
		if strings.EqualFold(strings.TrimSpace(p), self) {
			return true
		}
	}
	return false
}

// stripCancellation returns the title without the first matching prefix.
func stripCancellation(title string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(title, p) {
			return strings.TrimSpace(strings.TrimPrefix(title, p)), true
		}
	}
	return "", false
}
