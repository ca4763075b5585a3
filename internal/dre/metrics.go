package dre

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the engine's cache and computations.
type Metrics struct {
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	computeTime  *prometheus.HistogramVec
	snapshotRead *prometheus.CounterVec
}

// NewMetrics registers the engine collectors. A nil registerer uses the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_dre_cache_hits_total",
			Help: "Statements served from the Redis cache.",
		}, []string{"period_type"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_dre_cache_miss_total",
			Help: "Statements not found in the Redis cache.",
		}, []string{"period_type"}),
		computeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_dre_compute_duration_seconds",
			Help:    "Duration of statement computations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"period_type"}),
		snapshotRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_dre_snapshot_reads_total",
			Help: "Quarterly snapshot lookups by outcome.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.cacheHits, m.cacheMisses, m.computeTime, m.snapshotRead)
	return m
}

func (m *Metrics) hit(periodType string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(periodType).Inc()
}

func (m *Metrics) miss(periodType string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(periodType).Inc()
}

func (m *Metrics) observeCompute(periodType string, d time.Duration) {
	if m == nil {
		return
	}
	m.computeTime.WithLabelValues(periodType).Observe(d.Seconds())
}

func (m *Metrics) snapshot(outcome string) {
	if m == nil {
		return
	}
	m.snapshotRead.WithLabelValues(outcome).Inc()
}
