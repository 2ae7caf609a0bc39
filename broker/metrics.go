package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mini-lpc/metrics"
)

// Metrics holds broker metrics
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	Registrations   prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates broker metrics in the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(metrics.NewComponentRegistry("lpc", "broker"))
}

// NewMetricsWith creates broker metrics in reg.
func NewMetricsWith(reg *metrics.ComponentRegistry) *Metrics {
	return &Metrics{
		RequestsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Install and connect requests, by type and outcome",
		}, []string{"type", "outcome"}),
		Registrations: reg.NewGauge(prometheus.GaugeOpts{
			Name: "registrations",
			Help: "Number of registered access paths",
		}),
		RequestDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Time spent handling a request",
			Buckets: metrics.DurationBuckets,
		}, []string{"type"}),
	}
}

// RecordRequest records a finished request
func (m *Metrics) RecordRequest(kind string, state State, d time.Duration) {
	m.RequestsTotal.WithLabelValues(kind, state.String()).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}
