package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateRegistrationReturnsExisting(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := NewComponentRegistryWith(reg, "lpc", "test")

	a := r.NewCounter(prometheus.CounterOpts{Name: "things_total", Help: "things"})
	b := r.NewCounter(prometheus.CounterOpts{Name: "things_total", Help: "things"})
	a.Inc()
	b.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a))

	v1 := r.NewCounterVec(prometheus.CounterOpts{Name: "labelled_total", Help: "l"}, []string{"k"})
	v2 := r.NewCounterVec(prometheus.CounterOpts{Name: "labelled_total", Help: "l"}, []string{"k"})
	assert.Same(t, v1, v2)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConflictingRegistrationPanics(t *testing.T) {
	t.Parallel()
	r := NewComponentRegistryWith(prometheus.NewRegistry(), "lpc", "test")
	r.NewCounter(prometheus.CounterOpts{Name: "x", Help: "x"})
	assert.Panics(t, func() {
		r.NewGauge(prometheus.GaugeOpts{Name: "x", Help: "different"})
	})
}
