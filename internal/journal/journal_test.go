package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
	"calsync/internal/reconcile"
	"calsync/internal/syncer"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "db", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func report(started time.Time) *syncer.Report {
	standup := model.SourceEvent{Title: "Standup", Date: "Monday, January 5, 2026", StartTime: "9:00 AM", EndTime: "9:15 AM"}
	review := model.SourceEvent{Title: "Review", Date: "Tuesday, January 6, 2026", StartTime: "2:00 PM", EndTime: "3:00 PM"}
	return &syncer.Report{
		ID:       uuid.NewString(),
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
		Scraped:  3,
		Remote:   4,
		ParseDrops: []syncer.ParseDrop{
			{Index: 2, Label: "junk", Err: errors.New("nope")},
		},
		Plan: reconcile.Plan{
			Decisions: []reconcile.Decision{
				{Index: 0, Kind: reconcile.KindSkip, Reason: reconcile.ReasonUnchanged, Event: standup},
				{Index: 1, Kind: reconcile.KindUpdate, RemoteID: "r-1", Event: review},
			},
		},
		Outcomes: []syncer.Outcome{
			{Decision: reconcile.Decision{Index: 0, Kind: reconcile.KindSkip, Reason: reconcile.ReasonUnchanged, Event: standup}},
			{Decision: reconcile.Decision{Index: 1, Kind: reconcile.KindUpdate, RemoteID: "r-1", Event: review}, Err: errors.New("quota")},
		},
		Err: errors.New("1 error occurred"),
	}
}

func TestRecordAndGet(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 4, 12, 0, 0, 123, time.FixedZone("CET", 3600))
	rep := report(started)

	require.NoError(t, j.Record(ctx, rep))

	run, err := j.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.ID, run.ID)
	assert.True(t, run.Started.Equal(started))
	assert.Equal(t, 1500*time.Millisecond, run.Finished.Sub(run.Started))
	assert.Equal(t, 3, run.Scraped)
	assert.Equal(t, 4, run.Remote)
	assert.Equal(t, 1, run.ParseDrops)
	assert.Equal(t, 1, run.Updated)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, "1 error occurred", run.Error)

	require.Len(t, run.Decisions, 2)
	assert.Equal(t, Decision{
		Position: 0, Kind: "skip", Reason: "unchanged", Title: "Standup",
		Date: "Monday, January 5, 2026", StartTime: "9:00 AM", EndTime: "9:15 AM",
	}, run.Decisions[0])
	assert.Equal(t, "r-1", run.Decisions[1].RemoteID)
	assert.Equal(t, "quota", run.Decisions[1].Error)
	assert.False(t, run.Decisions[1].Applied)
}

func TestGetUnknown(t *testing.T) {
	j := openTemp(t)
	_, err := j.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateRecordRollsBack(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	rep := report(time.Now())
	require.NoError(t, j.Record(ctx, rep))
	assert.Error(t, j.Record(ctx, rep))

	run, err := j.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Len(t, run.Decisions, 2)
}

func TestRecentAndPrune(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 5 {
		rep := report(base.Add(time.Duration(i) * time.Hour))
		ids = append(ids, rep.ID)
		require.NoError(t, j.Record(ctx, rep))
	}

	runs, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[2], runs[2].ID)
	assert.Nil(t, runs[0].Decisions)

	removed, err := j.Prune(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	runs, err = j.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = j.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	var orphans int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM run_decisions WHERE run_id = ?`, ids[0]).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	rep := report(time.Now())
	require.NoError(t, j.Record(context.Background(), rep))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	_, err = j.Get(context.Background(), rep.ID)
	assert.NoError(t, err)
}

func TestRecordPrunesToKeep(t *testing.T) {
	j := openTemp(t)
	j.Keep = 2
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 4 {
		require.NoError(t, j.Record(ctx, report(base.Add(time.Duration(i)*time.Minute))))
	}
	runs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
