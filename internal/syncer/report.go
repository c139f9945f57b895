package syncer

import (
	"time"

	"calsync/internal/reconcile"
)

// Outcome is what happened to one decision when the plan was applied.
type Outcome struct {
	Decision reconcile.Decision
	// Applied is true when the remote call succeeded. Always false for
	// skips and in dry-run.
	Applied bool
	// CreatedID is the remote ID returned by a successful create.
	CreatedID string
	Err       error
}

// ParseDrop is a raw event whose label matched no known pattern.
type ParseDrop struct {
	Index int
	Label string
	Err   error
}

// Report summarizes one pass.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time
	DryRun   bool

	// Scraped is the number of raw events read from the source calendar.
	Scraped    int
	ParseDrops []ParseDrop

	// Window is the remote span looked up. Zero when no lookup was needed.
	Window reconcile.Window
	// Remote is the number of remote events seen in Window.
	Remote int

	Plan     reconcile.Plan
	Outcomes []Outcome

	// Err is the error that aborted the pass, or the aggregate of every
	// failed remote call.
	Err error
}

// Duration is the wall time of the pass.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Counts tallies decisions by kind.
func (r *Report) Counts() map[reconcile.Kind]int {
	byKind, _ := r.Plan.Counts()
	return byKind
}

// Failed returns the outcomes whose remote call failed.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Succeeded reports whether the pass completed with no errors.
func (r *Report) Succeeded() bool {
	return r.Err == nil
}
