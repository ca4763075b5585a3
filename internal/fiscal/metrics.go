package fiscal

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// Metrics counts deduction conflicts found while reconciling.
type Metrics struct {
	conflicts *prometheus.CounterVec
}

// NewMetrics registers the fiscal collectors. A nil registerer uses the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_dre_deduction_conflicts_total",
		Help: "Quarters where monthly deductions overrode a different quarterly value.",
	}, []string{"period_type"})
	registerer.MustRegister(conflicts)
	return &Metrics{conflicts: conflicts}
}

func (m *Metrics) conflict(t period.Type) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(string(t)).Inc()
}
