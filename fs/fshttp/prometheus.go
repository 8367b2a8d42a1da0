package fshttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times the HTTP transactions of a Transport
type Metrics struct {
	Responses *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
}

// NewMetrics returns Metrics named under namespace. Assign it to
// DefaultMetrics before making clients so they record into it.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses by host, method and status code (0 for transport errors)",
		}, []string{"host", "method", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time until the response headers arrived, by host",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 7),
		}, []string{"host"}),
	}
}

// DefaultMetrics is used by new Transports, nil for none
var DefaultMetrics *Metrics

// Collectors returns the collectors to register, none for nil Metrics
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{m.Responses, m.Latency}
}

func (m *Metrics) observe(req *http.Request, resp *http.Response, took time.Duration) {
	if m == nil {
		return
	}
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	m.Responses.WithLabelValues(req.URL.Host, req.Method, strconv.Itoa(code)).Inc()
	m.Latency.WithLabelValues(req.URL.Host).Observe(took.Seconds())
}
