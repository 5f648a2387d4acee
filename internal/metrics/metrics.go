package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the tracking-service metrics behind one registry.
type Collector struct {
	reg *prometheus.Registry

	ActiveSessions prometheus.Gauge

	SessionsStarted    prometheus.Counter
	SessionsStopped    prometheus.Counter
	SnapshotsPublished prometheus.Counter
	StoreErrors        prometheus.Counter

	PhaseTransitions *prometheus.CounterVec

	TickDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rnvlive_active_sessions",
			Help: "Number of live tracking sessions (at most one by design).",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnvlive_sessions_started_total",
			Help: "Total tracking sessions started.",
		}),
		SessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnvlive_sessions_stopped_total",
			Help: "Total tracking sessions stopped, including superseded ones.",
		}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnvlive_snapshots_published_total",
			Help: "Total tracking snapshots pushed to sinks.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnvlive_store_errors_total",
			Help: "Total best-effort state store failures.",
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnvlive_phase_transitions_total",
			Help: "Phase transitions by target phase.",
		}, []string{"phase"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rnvlive_tick_duration_seconds",
			Help:    "Duration of scheduler tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(
		c.ActiveSessions,
		c.SessionsStarted, c.SessionsStopped,
		c.SnapshotsPublished, c.StoreErrors,
		c.PhaseTransitions, c.TickDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
