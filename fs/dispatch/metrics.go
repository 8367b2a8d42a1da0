package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics count what the dispatcher does
type Metrics struct {
	Operations  *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Constructed *prometheus.CounterVec
	Evicted     *prometheus.CounterVec
}

// NewMetrics creates the dispatcher metrics under namespace
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "operations_total",
			Help:      "Repository operations by backend and operation",
		}, []string{"backend", "op"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "errors_total",
			Help:      "Failed repository operations by backend and error kind",
		}, []string{"backend", "kind"}),
		Constructed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "delegates_constructed_total",
			Help:      "Backend adapters constructed by backend",
		}, []string{"backend"}),
		Evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "delegates_evicted_total",
			Help:      "Backend adapters dropped by backend and reason",
		}, []string{"backend", "reason"}),
	}
}

// Collectors returns all prometheus metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Operations,
		m.Errors,
		m.Constructed,
		m.Evicted,
	}
}
