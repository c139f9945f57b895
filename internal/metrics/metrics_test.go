package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/reconcile"
	"calsync/internal/syncer"
)

func sampleReport(err error) *syncer.Report {
	started := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)
	update := reconcile.Decision{Kind: reconcile.KindUpdate, RemoteID: "r-1"}
	rep := &syncer.Report{
		Started:    started,
		Finished:   started.Add(3 * time.Second),
		Scraped:    4,
		Remote:     2,
		ParseDrops: []syncer.ParseDrop{{Index: 3}},
		Plan: reconcile.Plan{
			Decisions: []reconcile.Decision{
				{Kind: reconcile.KindSkip, Reason: reconcile.ReasonPast},
				{Kind: reconcile.KindSkip, Reason: reconcile.ReasonPast},
				update,
			},
			Drops: []reconcile.Drop{{Index: 2}},
		},
		Outcomes: []syncer.Outcome{{Decision: update, Err: err}},
		Err:      err,
	}
	return rep
}

func TestObserveReportSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(WithRegistry(reg))

	rep := sampleReport(nil)
	m.ObserveReport(rep)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("skip", "past")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("update", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("label")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("normalize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, float64(rep.Finished.Unix()), testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.lastScraped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lastRemoteSet))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestObserveReportFailures(t *testing.T) {
	m := NewManager(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.ObserveReport(sampleReport(errors.New("quota")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteErrors.WithLabelValues("update")))
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess))

	m.ObserveReport(&syncer.Report{Err: errors.New("scrape failed")})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewManager()
	m.ObserveReport(sampleReport(nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `calsync_runs_total{result="success"} 1`)
	assert.Contains(t, body, "calsync_run_duration_seconds_bucket")
	assert.True(t, strings.Contains(body, "go_goroutines"), "default registry carries runtime collectors")
}
