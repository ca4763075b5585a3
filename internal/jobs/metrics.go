package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes recorded by Tracker.
const (
	OutcomeRefreshed = "refreshed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics exposes Prometheus collectors for snapshot refresh runs.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the refresh metrics on registerer, or on the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments one refresh run.
type Tracker struct {
	metrics *Metrics
	trigger string
	start   time.Time
	skipped bool
}

// Track starts timing a run started by trigger.
func (m *Metrics) Track(trigger string) *Tracker {
	return &Tracker{metrics: m, trigger: trigger, start: time.Now()}
}

// Skip marks the run as having nothing to refresh.
func (t *Tracker) Skip() {
	if t != nil {
		t.skipped = true
	}
}

// End records the outcome of the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	outcome := OutcomeRefreshed
	switch {
	case err != nil:
		outcome = OutcomeFailed
	case t.skipped:
		outcome = OutcomeSkipped
	}
	t.metrics.runs.WithLabelValues(t.trigger, outcome).Inc()
	t.metrics.duration.WithLabelValues(t.trigger).Observe(time.Since(t.start).Seconds())
	if outcome == OutcomeRefreshed {
		t.metrics.lastSuccess.WithLabelValues(t.trigger).SetToCurrentTime()
	}
	return err
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_dre_snapshot_refresh_runs_total",
		Help: "Snapshot refresh runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_dre_snapshot_refresh_duration_seconds",
		Help:    "Duration of snapshot refresh runs by trigger.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"trigger"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_dre_snapshot_refresh_last_success_timestamp_seconds",
		Help: "Unix time of the last snapshot refresh that replaced a snapshot.",
	}, []string{"trigger"})
	registerer.MustRegister(runs, duration, lastSuccess)
	return &Metrics{runs: runs, duration: duration, lastSuccess: lastSuccess}
}
