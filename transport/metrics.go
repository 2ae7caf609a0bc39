package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mini-lpc/metrics"
)

// Return outcomes as seen by a client-side reader.
const (
	OutcomeDelivered = "delivered"
	OutcomeRequeued  = "requeued"
	OutcomeDropped   = "dropped"
	OutcomeAbandoned = "abandoned"
)

// Metrics holds call channel metrics
type Metrics struct {
	CallsTotal    prometheus.Counter
	ReturnsTotal  *prometheus.CounterVec
	AwaitDuration prometheus.Histogram
	FramingErrors *prometheus.CounterVec
	TimeoutsTotal prometheus.Counter
}

// NewMetrics creates channel metrics in the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(metrics.NewComponentRegistry("lpc", "channel"))
}

// NewMetricsWith creates channel metrics in reg.
func NewMetricsWith(reg *metrics.ComponentRegistry) *Metrics {
	return &Metrics{
		CallsTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "calls_total",
			Help: "Total number of call envelopes written",
		}),
		ReturnsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_total",
			Help: "Return envelopes read, by outcome",
		}, []string{"outcome"}),
		AwaitDuration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "await_duration_seconds",
			Help:    "Time from call to matching return",
			Buckets: metrics.DurationBuckets,
		}),
		FramingErrors: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "framing_errors_total",
			Help: "Malformed frames read, by channel side",
		}, []string{"side"}),
		TimeoutsTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "timeouts_total",
			Help: "Calls abandoned after their wait expired",
		}),
	}
}

func (m *Metrics) recordReturn(outcome string) {
	m.ReturnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordAwait(d time.Duration) {
	m.AwaitDuration.Observe(d.Seconds())
}
