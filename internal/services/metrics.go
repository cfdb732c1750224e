package services

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments outgoing N-central API calls.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	inFlight  *prometheus.GaugeVec
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	throttled *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ncx",
			Name:      "api_in_flight_requests",
			Help:      "In-flight N-central API requests.",
		}, []string{"server"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ncx",
			Name:      "api_requests_total",
			Help:      "Total number of N-central API requests.",
		}, []string{"server", "method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ncx",
			Name:      "api_request_duration_seconds",
			Help:      "N-central API request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "method", "path", "status"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ncx",
			Name:      "api_throttled_total",
			Help:      "Responses with status 429.",
		}, []string{"server", "path"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlight, m.requests, m.duration, m.throttled)
	}
	return m
}

func (m *Metrics) begin(server string) func() {
	if m == nil {
		return func() {}
	}
	g := m.inFlight.WithLabelValues(server)
	g.Inc()
	return g.Dec
}

func (m *Metrics) observe(server, method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	class := statusClass(status)
	pattern := NormalizePath(path)
	m.requests.WithLabelValues(server, method, pattern, class).Inc()
	m.duration.WithLabelValues(server, method, pattern, class).Observe(elapsed.Seconds())
	if status == 429 {
		m.throttled.WithLabelValues(server, pattern).Inc()
	}
}

// statusClass collapses a status to "2xx", "4xx" and so on. Zero means the transport failed.
func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
