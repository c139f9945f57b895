package reconcile

import (
	"fmt"

	"calsync/internal/model"
)

// Kind tags a Decision.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindSkip   Kind = "skip"
)

// Reason explains a KindSkip decision.
type Reason string

const (
	ReasonIgnored           Reason = "ignored"
	ReasonSelfParticipant   Reason = "self_participant"
	ReasonCancelledNotFound Reason = "cancelled_not_found"
	ReasonPast              Reason = "past"
	ReasonUnchanged         Reason = "unchanged"
)

// Decision is the outcome for one source event.
type Decision struct {
	// Index is the position of Event in the input batch.
	Index int
	Kind  Kind
	// Reason is set for KindSkip only.
	Reason Reason
	// RemoteID is set for KindUpdate and KindDelete.
	RemoteID string
	Event    model.SourceEvent
	// Input is the resolved payload for KindCreate and KindUpdate.
	Input model.EventInput
}

func (d Decision) String() string {
	switch d.Kind {
	case KindSkip:
		return fmt.Sprintf("skip(%s) %q", d.Reason, d.Event.Title)
	case KindDelete, KindUpdate:
		return fmt.Sprintf("%s(%s) %q", d.Kind, d.RemoteID, d.Event.Title)
	default:
		return fmt.Sprintf("%s %q", d.Kind, d.Event.Title)
	}
}

// Drop records a source event that was left out because its date or times
// could not be normalized.
type Drop struct {
	Index int
	Event model.SourceEvent
	Err   error
}

// Plan is the result of one reconciliation pass: one Decision per source
// event that was not dropped, in input order.
type Plan struct {
	Decisions []Decision
	Drops     []Drop
}

// Counts tallies decisions by kind, and skips by reason.
func (p Plan) Counts() (byKind map[Kind]int, bySkip map[Reason]int) {
	byKind = make(map[Kind]int)
	bySkip = make(map[Reason]int)
	for _, d := range p.Decisions {
		byKind[d.Kind]++
		if d.Kind == KindSkip {
			bySkip[d.Reason]++
		}
	}
	return byKind, bySkip
}

// Mutations returns the decisions that require a remote call.
func (p Plan) Mutations() []Decision {
	out := make([]Decision, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		if d.Kind != KindSkip {
			out = append(out, d)
		}
	}
	return out
}
