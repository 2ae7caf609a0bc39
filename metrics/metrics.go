// Package metrics wraps prometheus registration for LPC components.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Standard buckets
var (
	DurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	SizeBuckets     = prometheus.ExponentialBuckets(64, 4, 8)
)

// ComponentRegistry creates collectors under a shared namespace and subsystem.
//
// Registering a collector that already exists returns the existing one, so
// several brokers or channels in one process share their series.
type ComponentRegistry struct {
	reg       prometheus.Registerer
	namespace string
	subsystem string
}

// NewComponentRegistry registers into the default prometheus registry.
func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	return NewComponentRegistryWith(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewComponentRegistryWith registers into reg.
func NewComponentRegistryWith(reg prometheus.Registerer, namespace, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{reg: reg, namespace: namespace, subsystem: subsystem}
}

func register[C prometheus.Collector](r *ComponentRegistry, c C) C {
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r, prometheus.NewCounter(opts))
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r, prometheus.NewCounterVec(opts, labels))
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r, prometheus.NewGauge(opts))
}

func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r, prometheus.NewHistogram(opts))
}

func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r, prometheus.NewHistogramVec(opts, labels))
}
