package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := NewCounter("test_counter", "test counter", WithRegisterer(reg))

	// mutations before registration are dropped
	counter.Inc()
	counter.Add(10)
	require.Zero(t, counter.Value())

	counter.Register()
	require.Zero(t, counter.Value())

	counter.Inc()
	counter.Add(2)
	require.Equal(t, float64(3), counter.Value())

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, Namespace+"_test_counter", families[0].GetName())
}

func TestGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauge := NewGauge("test_gauge", "test gauge", WithRegisterer(reg))

	gauge.Set(42)
	require.Zero(t, gauge.Value())

	gauge.Register()
	gauge.Set(42)
	require.Equal(t, float64(42), gauge.Value())
	gauge.Inc()
	gauge.Dec()
	gauge.Add(-2)
	require.Equal(t, float64(40), gauge.Value())
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := NewCounter("test_twice", "registered twice", WithRegisterer(reg))
	counter.Register()
	require.Panics(t, counter.Register)

	gauge := NewGauge("test_twice_gauge", "registered twice", WithRegisterer(reg))
	gauge.Register()
	require.Panics(t, gauge.Register)
}

func TestLabeledSeriesShareName(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCounter("test_labeled", "labeled counter",
		WithRegisterer(reg), WithLabels(prometheus.Labels{"topic": "t1"}))
	second := NewCounter("test_labeled", "labeled counter",
		WithRegisterer(reg), WithLabels(prometheus.Labels{"topic": "t2"}))
	first.Register()
	second.Register()

	first.Inc()
	require.Equal(t, float64(1), first.Value())
	require.Zero(t, second.Value())

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Len(t, families[0].GetMetric(), 2)
}
