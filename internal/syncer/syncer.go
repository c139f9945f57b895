// Package syncer runs reconciliation passes end to end: scrape the source
// calendar, parse the labels, read the remote window, decide, and apply.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"calsync/internal/label"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
)

// Scraper reads raw events from the source calendar.
type Scraper interface {
	Scrape(ctx context.Context) ([]label.RawEvent, error)
}

// Store lists remote events in [min, max).
type Store interface {
	ListEvents(ctx context.Context, min, max time.Time) ([]model.RemoteEvent, error)
}

// Executor performs remote mutations.
type Executor interface {
	Create(ctx context.Context, in model.EventInput) (string, error)
	Update(ctx context.Context, id string, in model.EventInput) error
	Delete(ctx context.Context, id string) error
}

// Remote is a calendar that can be both read and written.
type Remote interface {
	Store
	Executor
}

// Recorder persists finished reports.
type Recorder interface {
	Record(ctx context.Context, r *Report) error
}

// Observer is told about every finished report.
type Observer interface {
	ObserveReport(r *Report)
}

// ErrBusy is returned by TryRun while another pass is in progress.
var ErrBusy = errors.New("sync already running")

// Runner executes passes. Concurrent calls to Run are serialized.
type Runner struct {
	Scraper Scraper
	Remote  Remote
	// Policy is the base policy; ReferenceNow is set per pass.
	Policy reconcile.Policy
	DryRun bool

	Parser    *label.Parser
	Engine    *reconcile.Engine
	Recorder  Recorder
	Observers []Observer
	Now       func() time.Time

	mu     sync.Mutex
	lastMu sync.RWMutex
	last   *Report
}

// Last returns the most recent finished report, or nil.
func (r *Runner) Last() *Report {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}

// TryRun runs a pass unless one is already in progress.
func (r *Runner) TryRun(ctx context.Context) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return r.run(ctx)
}

// Run runs one pass, waiting for any pass in progress to finish first.
// The returned error equals the report's Err.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) parser() *label.Parser {
	if r.Parser != nil {
		return r.Parser
	}
	return label.Default
}

func (r *Runner) engine() *reconcile.Engine {
	if r.Engine != nil {
		return r.Engine
	}
	return reconcile.Default
}

func (r *Runner) run(ctx context.Context) (*Report, error) {
	rep := &Report{
		ID:      uuid.NewString(),
		Started: r.now(),
		DryRun:  r.DryRun,
	}
	rep.Err = r.pass(ctx, rep)
	rep.Finished = r.now()
	r.finish(ctx, rep)
	return rep, rep.Err
}

func (r *Runner) pass(ctx context.Context, rep *Report) error {
	raws, err := r.Scraper.Scrape(ctx)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	rep.Scraped = len(raws)

	sources := make([]model.SourceEvent, 0, len(raws))
	p := r.parser()
	for i, raw := range raws {
		src, err := p.Parse(raw)
		if err != nil {
			rep.ParseDrops = append(rep.ParseDrops, ParseDrop{Index: i, Label: raw.Label, Err: err})
			appLog.Debug("event label not recognized", "index", i, "label", raw.Label)
			continue
		}
		sources = append(sources, src)
	}

	policy := r.Policy
	policy.ReferenceNow = rep.Started
	eng := r.engine()

	var remote []model.RemoteEvent
	if win, ok := eng.RequiredWindow(sources, policy); ok {
		rep.Window = win
		remote, err = r.Remote.ListEvents(ctx, win.Min, win.Max)
		if err != nil {
			return fmt.Errorf("list remote events: %w", err)
		}
		rep.Remote = len(remote)
	}

	rep.Plan = eng.Reconcile(sources, remote, policy)
	for _, d := range rep.Plan.Drops {
		appLog.Info("event dropped", "title", d.Event.Title, "date", d.Event.Date, "reason", d.Err.Error())
	}
	return r.apply(ctx, rep)
}

// apply executes the plan in order. A failed call is recorded and the
// remaining decisions still run.
func (r *Runner) apply(ctx context.Context, rep *Report) error {
	var errs *multierror.Error
	rep.Outcomes = make([]Outcome, 0, len(rep.Plan.Decisions))
	for _, d := range rep.Plan.Decisions {
		out := Outcome{Decision: d}
		if d.Kind == reconcile.KindSkip || r.DryRun {
			if d.Kind != reconcile.KindSkip {
				appLog.Info("dry run: would apply", "decision", d.String())
			}
			rep.Outcomes = append(rep.Outcomes, out)
			continue
		}
		if err := ctx.Err(); err != nil {
			out.Err = err
			rep.Outcomes = append(rep.Outcomes, out)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}

		switch d.Kind {
		case reconcile.KindCreate:
			out.CreatedID, out.Err = r.Remote.Create(ctx, d.Input)
		case reconcile.KindUpdate:
			out.Err = r.Remote.Update(ctx, d.RemoteID, d.Input)
		case reconcile.KindDelete:
			out.Err = r.Remote.Delete(ctx, d.RemoteID)
		}
		if out.Err != nil {
			appLog.Error("remote call failed", out.Err, "decision", d.String())
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", d, out.Err))
		} else {
			out.Applied = true
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}
	return errs.ErrorOrNil()
}

func (r *Runner) finish(ctx context.Context, rep *Report) {
	counts := rep.Counts()
	if rep.Err != nil {
		appLog.Error("sync pass finished with errors", rep.Err,
			"run", rep.ID,
			"duration", rep.Duration().String(),
		)
	} else {
		appLog.Info("sync pass finished",
			"run", rep.ID,
			"dry_run", rep.DryRun,
			"scraped", rep.Scraped,
			"created", counts[reconcile.KindCreate],
			"updated", counts[reconcile.KindUpdate],
			"deleted", counts[reconcile.KindDelete],
			"skipped", counts[reconcile.KindSkip],
			"dropped", len(rep.ParseDrops)+len(rep.Plan.Drops),
			"duration", rep.Duration().String(),
		)
	}

	if r.Recorder != nil {
		// Journal the pass even when the caller's context is already done.
		if err := r.Recorder.Record(context.WithoutCancel(ctx), rep); err != nil {
			appLog.Error("failed to record sync pass", err, "run", rep.ID)
		}
	}
	for _, o := range r.Observers {
		o.ObserveReport(rep)
	}

	r.lastMu.Lock()
	r.last = rep
	r.lastMu.Unlock()
}
