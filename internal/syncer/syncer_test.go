package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/ics"
	"calsync/internal/label"
	"calsync/internal/model"
	"calsync/internal/reconcile"
)

var (
	cet     = time.FixedZone("CET", 60*60)
	baseNow = time.Date(2026, time.January, 4, 12, 0, 0, 0, cet)
)

type fakeScraper struct {
	raws []label.RawEvent
	err  error
}

func (f *fakeScraper) Scrape(context.Context) ([]label.RawEvent, error) {
	return f.raws, f.err
}

type fakeRemote struct {
	mu        sync.Mutex
	events    []model.RemoteEvent
	listErr   error
	failOn    map[string]error
	lists     int
	listedMin time.Time
	listedMax time.Time
	calls     []string
}

func (f *fakeRemote) ListEvents(_ context.Context, min, max time.Time) ([]model.RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.listedMin, f.listedMax = min, max
	return f.events, f.listErr
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeRemote) Create(_ context.Context, in model.EventInput) (string, error) {
	if err := f.record("create " + in.Title); err != nil {
		return "", err
	}
	return "id-" + in.Title, nil
}

func (f *fakeRemote) Update(_ context.Context, id string, _ model.EventInput) error {
	return f.record("update " + id)
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	return f.record("delete " + id)
}

type fakeRecorder struct {
	reports []*Report
	err     error
}

func (f *fakeRecorder) Record(ctx context.Context, r *Report) error {
	f.reports = append(f.reports, r)
	return f.err
}

type countingObserver struct{ n int }

func (c *countingObserver) ObserveReport(*Report) { c.n++ }

func basePolicy() reconcile.Policy {
	return reconcile.Policy{
		IgnoreSubstrings:     []string{"Focus"},
		SelfIdentifier:       "me@example.com",
		CancellationPrefixes: []string{"Canceled: "},
		Location:             cet,
	}
}

func newRunner(s Scraper, r Remote) *Runner {
	return &Runner{
		Scraper: s,
		Remote:  r,
		Policy:  basePolicy(),
		Now:     func() time.Time { return baseNow },
	}
}

func fixtureRaws() []label.RawEvent {
	return []label.RawEvent{
		{Label: "Standup, 9:00 AM to 9:15 AM, Monday, January 5, 2026"},
		{Label: "Review, 2:00 PM to 3:00 PM, Tuesday, January 6, 2026", DescriptionHTML: "Agenda<br>Notes"},
		{Label: "Canceled: Retro, 4:00 PM to 5:00 PM, Wednesday, January 7, 2026"},
		{Label: "Focus time, 8:00 AM to 9:00 AM, Monday, January 5, 2026"},
		{Label: "not an event label"},
		{Label: "Old, 9:00 AM to 10:00 AM, Friday, January 2, 2026"},
		{Label: "Lunch, 12:00 PM to 1:00 PM, Monday, January 5, 2026", Participants: []string{"Me@Example.com"}},
	}
}

func fixtureRemote() []model.RemoteEvent {
	return []model.RemoteEvent{
		{ID: "r-standup", Title: "Standup", Start: time.Date(2026, 1, 5, 9, 0, 0, 0, cet), End: time.Date(2026, 1, 5, 9, 15, 0, 0, cet)},
		{ID: "r-review", Title: "Review", Start: time.Date(2026, 1, 6, 13, 0, 0, 0, cet), End: time.Date(2026, 1, 6, 14, 0, 0, 0, cet)},
		{ID: "r-retro", Title: "Retro", Start: time.Date(2026, 1, 7, 16, 0, 0, 0, cet), End: time.Date(2026, 1, 7, 17, 0, 0, 0, cet)},
	}
}

func TestRunAppliesPlanInOrder(t *testing.T) {
	remote := &fakeRemote{events: fixtureRemote()}
	rec := &fakeRecorder{}
	obs := &countingObserver{}
	r := newRunner(&fakeScraper{raws: fixtureRaws()}, remote)
	r.Recorder = rec
	r.Observers = []Observer{obs}

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, 7, rep.Scraped)
	require.Len(t, rep.ParseDrops, 1)
	assert.Equal(t, 4, rep.ParseDrops[0].Index)
	assert.ErrorIs(t, rep.ParseDrops[0].Err, label.ErrNotParseable)

	// The window spans Friday 2nd (the past event) through Wednesday 7th.
	assert.Equal(t, 1, remote.lists)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, cet), remote.listedMin)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, cet), remote.listedMax)
	assert.Equal(t, 3, rep.Remote)

	assert.Equal(t, []string{"update r-review", "delete r-retro"}, remote.calls)

	counts := rep.Counts()
	assert.Equal(t, 1, counts[reconcile.KindUpdate])
	assert.Equal(t, 1, counts[reconcile.KindDelete])
	assert.Equal(t, 4, counts[reconcile.KindSkip])
	assert.Equal(t, 0, counts[reconcile.KindCreate])

	require.Len(t, rep.Outcomes, 6)
	for _, o := range rep.Outcomes {
		assert.NoError(t, o.Err)
		assert.Equal(t, o.Decision.Kind != reconcile.KindSkip, o.Applied, o.Decision.String())
	}
	assert.Equal(t, "Agenda<br>Notes", rep.Outcomes[1].Decision.Input.Description)

	assert.Len(t, rec.reports, 1)
	assert.Equal(t, 1, obs.n)
	assert.Same(t, rep, r.Last())
	assert.True(t, rep.Succeeded())
}

func TestRunCreateRecordsID(t *testing.T) {
	remote := &fakeRemote{}
	r := newRunner(&fakeScraper{raws: fixtureRaws()[:1]}, remote)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, "id-Standup", rep.Outcomes[0].CreatedID)
	assert.True(t, rep.Outcomes[0].Applied)
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	remote := &fakeRemote{events: fixtureRemote()}
	r := newRunner(&fakeScraper{raws: fixtureRaws()}, remote)
	r.DryRun = true

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Empty(t, remote.calls)
	assert.Equal(t, 1, remote.lists)
	assert.Equal(t, 1, rep.Counts()[reconcile.KindUpdate])
	for _, o := range rep.Outcomes {
		assert.False(t, o.Applied)
	}
}

func TestRunContinuesAfterExecutorFailure(t *testing.T) {
	boom := errors.New("boom")
	remote := &fakeRemote{
		events: fixtureRemote(),
		failOn: map[string]error{"update r-review": boom},
	}
	r := newRunner(&fakeScraper{raws: fixtureRaws()}, remote)

	rep, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, rep.Err, err)
	assert.False(t, rep.Succeeded())

	assert.Equal(t, []string{"update r-review", "delete r-retro"}, remote.calls)
	failed := rep.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "r-review", failed[0].Decision.RemoteID)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
}

func TestRunAbortsOnScrapeAndListErrors(t *testing.T) {
	rec := &fakeRecorder{}
	remote := &fakeRemote{}
	r := newRunner(&fakeScraper{err: assert.AnError}, remote)
	r.Recorder = rec

	rep, err := r.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, remote.lists)
	assert.Len(t, rec.reports, 1, "failed passes are journaled too")
	assert.Same(t, rep, r.Last())

	remote.listErr = assert.AnError
	r.Scraper = &fakeScraper{raws: fixtureRaws()}
	_, err = r.Run(context.Background())
	assert.ErrorContains(t, err, "list remote events")
	assert.Empty(t, remote.calls)
}

func TestRunEmptyBatchSkipsRemoteLookup(t *testing.T) {
	remote := &fakeRemote{}
	r := newRunner(&fakeScraper{raws: []label.RawEvent{{Label: "junk"}}}, remote)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remote.lists)
	assert.Empty(t, rep.Plan.Decisions)
	assert.Len(t, rep.ParseDrops, 1)
	assert.True(t, rep.Window.Min.IsZero())
}

func TestRunRecorderFailureDoesNotFailPass(t *testing.T) {
	r := newRunner(&fakeScraper{}, &fakeRemote{})
	r.Recorder = &fakeRecorder{err: assert.AnError}
	_, err := r.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunCancelledContextStopsMutations(t *testing.T) {
	remote := &fakeRemote{events: fixtureRemote()}
	r := newRunner(&fakeScraper{raws: fixtureRaws()}, remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, remote.calls)
	assert.Len(t, rep.Failed(), 2)
}

type blockingScraper struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingScraper) Scrape(context.Context) ([]label.RawEvent, error) {
	close(b.started)
	<-b.release
	return nil, nil
}

func TestTryRunReportsBusy(t *testing.T) {
	bs := &blockingScraper{started: make(chan struct{}), release: make(chan struct{})}
	r := newRunner(bs, &fakeRemote{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		done <- err
	}()
	<-bs.started

	_, err := r.TryRun(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(bs.release)
	require.NoError(t, <-done)
	assert.NotNil(t, r.Last())
}

func TestRunAgainstICSStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.ics")
	store := ics.NewStore(path, "")

	raws := []label.RawEvent{
		fixtureRaws()[0],
		{
			Label:           "Review, 2:00 PM to 3:00 PM, Tuesday, January 6, 2026",
			DescriptionHTML: `Agenda<br>C:\new\tools, a; b`,
		},
	}
	r := newRunner(&fakeScraper{raws: raws}, store)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Counts()[reconcile.KindCreate])

	// Later passes see their own writes and have nothing left to do.
	for range 2 {
		rep, err = r.Run(context.Background())
		require.NoError(t, err)
		counts := rep.Counts()
		assert.Equal(t, 0, counts[reconcile.KindCreate])
		assert.Equal(t, 0, counts[reconcile.KindUpdate])
		assert.Equal(t, 2, counts[reconcile.KindSkip])
		for _, o := range rep.Outcomes {
			assert.Equal(t, reconcile.ReasonUnchanged, o.Decision.Reason)
		}
	}
}
