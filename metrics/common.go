// Package metrics defines the telemetry primitives used across the network
// layer. It uses the prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the basic namespace where all metrics are defined under.
	Namespace = "meshwire"
)

// Opt configures a Counter or a Gauge.
type Opt func(*options)

type options struct {
	registerer prometheus.Registerer
	labels     prometheus.Labels
}

func newOptions(opts []Opt) options {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRegisterer overrides the registerer used by Register. Defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(registerer prometheus.Registerer) Opt {
	return func(o *options) {
		o.registerer = registerer
	}
}

// WithLabels attaches constant labels to the metric. Metrics sharing a name
// must carry the same label names; values distinguish the series.
func WithLabels(labels prometheus.Labels) Opt {
	return func(o *options) {
		o.labels = labels
	}
}

// NewCounterVec creates a counter vector under the global namespace,
// registered at construction.
func NewCounterVec(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help},
		labels,
	)
}

// NewGaugeVec creates a gauge vector under the global namespace, registered
// at construction.
func NewGaugeVec(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help},
		labels,
	)
}

// NewHistogramWithBuckets creates a histogram vector with custom buckets,
// registered at construction.
func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets},
		labels,
	)
}
