package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/config"
	"calsync/internal/journal"
	"calsync/internal/model"
	"calsync/internal/reconcile"
	"calsync/internal/syncer"
)

type mockRunner struct {
	TryRunFunc func(ctx context.Context) (*syncer.Report, error)
	last       *syncer.Report
}

func (m *mockRunner) TryRun(ctx context.Context) (*syncer.Report, error) { return m.TryRunFunc(ctx) }
func (m *mockRunner) Last() *syncer.Report                              { return m.last }

type mockHistory struct {
	RecentFunc func(n int) ([]journal.Run, error)
	GetFunc    func(id string) (*journal.Run, error)
}

func (m *mockHistory) Recent(_ context.Context, n int) ([]journal.Run, error) { return m.RecentFunc(n) }
func (m *mockHistory) Get(_ context.Context, id string) (*journal.Run, error) { return m.GetFunc(id) }

func sampleReport() *syncer.Report {
	started := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)
	create := reconcile.Decision{
		Kind:  reconcile.KindCreate,
		Event: model.SourceEvent{Title: "Standup", Date: "Monday, January 5, 2026", StartTime: "9:00 AM", EndTime: "9:15 AM"},
	}
	return &syncer.Report{
		ID:         "run-1",
		Started:    started,
		Finished:   started.Add(2 * time.Second),
		Scraped:    2,
		ParseDrops: []syncer.ParseDrop{{Index: 1, Label: "junk", Err: errors.New("not parseable")}},
		Window:     reconcile.Window{Min: started, Max: started.Add(24 * time.Hour)},
		Plan:       reconcile.Plan{Decisions: []reconcile.Decision{create}},
		Outcomes:   []syncer.Outcome{{Decision: create, Applied: true, CreatedID: "evt-9"}},
	}
}

func do(t *testing.T, h http.Handler, method, path string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(config.DefaultConfig(), &mockRunner{})
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLast(t *testing.T) {
	runner := &mockRunner{}
	s := NewServer(config.DefaultConfig(), runner)

	rec := do(t, s.Handler(), http.MethodGet, "/api/last")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runner.last = sampleReport()
	rec = do(t, s.Handler(), http.MethodGet, "/api/last")
	require.Equal(t, http.StatusOK, rec.Code)

	var got reportDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, int64(2000), got.DurationMs)
	assert.Equal(t, 1, got.Counts["create"])
	require.Len(t, got.Outcomes, 1)
	assert.Equal(t, "evt-9", got.Outcomes[0].CreatedID)
	assert.True(t, got.Outcomes[0].Applied)
	require.Len(t, got.Dropped, 1)
	assert.Equal(t, "label", got.Dropped[0].Stage)
	assert.Equal(t, "junk", got.Dropped[0].Text)
	require.NotNil(t, got.WindowMin)
}

func TestSync(t *testing.T) {
	runner := &mockRunner{}
	s := NewServer(config.DefaultConfig(), runner)

	runner.TryRunFunc = func(context.Context) (*syncer.Report, error) { return sampleReport(), nil }
	rec := do(t, s.Handler(), http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusOK, rec.Code)

	runner.TryRunFunc = func(context.Context) (*syncer.Report, error) { return nil, syncer.ErrBusy }
	rec = do(t, s.Handler(), http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusConflict, rec.Code)

	runner.TryRunFunc = func(context.Context) (*syncer.Report, error) {
		rep := sampleReport()
		rep.Err = errors.New("quota exceeded")
		return rep, rep.Err
	}
	rec = do(t, s.Handler(), http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota exceeded")

	rec = do(t, s.Handler(), http.MethodGet, "/api/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncSurvivesClientDisconnect(t *testing.T) {
	var passErr error
	runner := &mockRunner{TryRunFunc: func(ctx context.Context) (*syncer.Report, error) {
		passErr = ctx.Err()
		return sampleReport(), nil
	}}
	s := NewServer(config.DefaultConfig(), runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, passErr)
}

func TestRuns(t *testing.T) {
	var asked int
	hist := &mockHistory{
		RecentFunc: func(n int) ([]journal.Run, error) {
			asked = n
			return []journal.Run{{ID: "a"}, {ID: "b"}}, nil
		},
		GetFunc: func(id string) (*journal.Run, error) {
			if id != "a" {
				return nil, journal.ErrNotFound
			}
			return &journal.Run{ID: "a", Decisions: []journal.Decision{{Kind: "create", Title: "Standup"}}}, nil
		},
	}
	s := NewServer(config.DefaultConfig(), &mockRunner{}, WithHistory(hist))

	rec := do(t, s.Handler(), http.MethodGet, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, asked)
	var list runsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 2)

	do(t, s.Handler(), http.MethodGet, "/api/runs?limit=abc")
	assert.Equal(t, 20, asked)

	rec = do(t, s.Handler(), http.MethodGet, "/api/runs/a")
	require.Equal(t, http.StatusOK, rec.Code)
	var run journal.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "Standup", run.Decisions[0].Title)

	rec = do(t, s.Handler(), http.MethodGet, "/api/runs/zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	hist.RecentFunc = func(int) ([]journal.Run, error) { return nil, assert.AnError }
	rec = do(t, s.Handler(), http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunsWithoutJournal(t *testing.T) {
	s := NewServer(config.DefaultConfig(), &mockRunner{})
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/api/runs").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/api/runs/x").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/metrics").Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("calsync_runs_total 1\n"))
	})
	s := NewServer(config.DefaultConfig(), &mockRunner{}, WithMetrics(metrics))
	rec := do(t, s.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "calsync_runs_total")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	runner := &mockRunner{last: sampleReport()}
	h := NewServer(cfg, runner).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/last")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/last", "admin", "nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/last", "admin", "pw").Code)

	cfg.BasicAuth.Password = ""
	h = NewServer(cfg, runner).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/last").Code, "incomplete credentials disable auth")
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}
