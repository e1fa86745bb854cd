package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Gauge is a point-in-time metric with an explicit registration step. Like
// Counter, mutations before Register are dropped and double registration of
// the same series panics. Callers that need a defined baseline must Set it
// right after Register; the backend default is 0 but gauges are expected to
// be explicitly initialized.
type Gauge struct {
	name string
	help string
	opts options

	g prometheus.Gauge
}

// NewGauge creates an unregistered gauge under the global namespace.
func NewGauge(name, help string, opts ...Opt) *Gauge {
	return &Gauge{name: name, help: help, opts: newOptions(opts)}
}

// Register declares the gauge to the collection system.
func (g *Gauge) Register() {
	g.g = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Name:        g.name,
		Help:        g.help,
		ConstLabels: g.opts.labels,
	})
	g.opts.registerer.MustRegister(g.g)
}

// Set sets the gauge to value.
func (g *Gauge) Set(value float64) {
	if g.g == nil {
		return
	}
	g.g.Set(value)
}

// Inc increases the gauge by 1.
func (g *Gauge) Inc() {
	if g.g == nil {
		return
	}
	g.g.Inc()
}

// Dec decreases the gauge by 1.
func (g *Gauge) Dec() {
	if g.g == nil {
		return
	}
	g.g.Dec()
}

// Add increases the gauge by delta. Delta may be negative.
func (g *Gauge) Add(delta float64) {
	if g.g == nil {
		return
	}
	g.g.Add(delta)
}

// Value reads the current value from the collector. It is used for testing
// and debug endpoints.
func (g *Gauge) Value() float64 {
	if g.g == nil {
		return 0
	}
	m := &dto.Metric{}
	if err := g.g.Write(m); err != nil {
		panic("failed to read gauge " + g.name + ": " + err.Error())
	}
	return m.GetGauge().GetValue()
}
