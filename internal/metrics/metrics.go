// Package metrics exposes Prometheus metrics about sync passes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calsync/internal/syncer"
)

// Manager owns a private registry and the sync collectors on it.
type Manager struct {
	namespace       string
	durationBuckets []float64
	registry        *prometheus.Registry

	runs          *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	drops         *prometheus.CounterVec
	remoteErrors  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	lastScraped   prometheus.Gauge
	lastRemoteSet prometheus.Gauge
}

// NewManager creates the collectors. Without WithRegistry a fresh registry
// carrying the Go and process collectors is used.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "calsync",
		durationBuckets: []float64{1, 5, 15, 30, 60, 120, 300},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Sync passes by result.",
	}, []string{"result"})

	m.decisions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "decisions_total",
		Help:      "Reconciliation decisions by kind and skip reason.",
	}, []string{"kind", "reason"})

	m.drops = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "dropped_events_total",
		Help:      "Source events left out of a pass, by stage.",
	}, []string{"stage"})

	m.remoteErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "remote_errors_total",
		Help:      "Failed remote calls by operation.",
	}, []string{"operation"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of sync passes.",
		Buckets:   m.durationBuckets,
	})

	m.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time the last pass without errors finished.",
	})

	m.lastScraped = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_scraped_events",
		Help:      "Raw events read from the source calendar by the last pass.",
	})

	m.lastRemoteSet = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_remote_events",
		Help:      "Remote events in the window of the last pass.",
	})
}

// ObserveReport records a finished pass.
func (m *Manager) ObserveReport(rep *syncer.Report) {
	m.runDuration.Observe(rep.Duration().Seconds())
	m.lastScraped.Set(float64(rep.Scraped))
	m.lastRemoteSet.Set(float64(rep.Remote))

	for _, d := range rep.Plan.Decisions {
		m.decisions.WithLabelValues(string(d.Kind), string(d.Reason)).Inc()
	}
	m.drops.WithLabelValues("label").Add(float64(len(rep.ParseDrops)))
	m.drops.WithLabelValues("normalize").Add(float64(len(rep.Plan.Drops)))

	for _, o := range rep.Failed() {
		m.remoteErrors.WithLabelValues(string(o.Decision.Kind)).Inc()
	}

	switch {
	case rep.Err == nil:
		m.runs.WithLabelValues("success").Inc()
		m.lastSuccess.Set(float64(rep.Finished.Unix()))
	case len(rep.Failed()) > 0:
		m.runs.WithLabelValues("partial").Inc()
	default:
		m.runs.WithLabelValues("error").Inc()
	}
}

// Registry returns the registry collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ syncer.Observer = (*Manager)(nil)
