package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Counter is a monotonic cumulative metric with an explicit registration
// step. The backing collector is created by Register; until then increments
// are dropped. Register must be called exactly once per instance, before the
// counter is shared between goroutines; registering the same name and label
// set twice on one registerer panics (prometheus MustRegister contract).
type Counter struct {
	name string
	help string
	opts options

	c prometheus.Counter
}

// NewCounter creates an unregistered counter under the global namespace.
func NewCounter(name, help string, opts ...Opt) *Counter {
	return &Counter{name: name, help: help, opts: newOptions(opts)}
}

// Register declares the counter to the collection system.
func (c *Counter) Register() {
	c.c = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   Namespace,
		Name:        c.name,
		Help:        c.help,
		ConstLabels: c.opts.labels,
	})
	c.opts.registerer.MustRegister(c.c)
}

// Inc increases the counter by 1.
func (c *Counter) Inc() {
	if c.c == nil {
		return
	}
	c.c.Inc()
}

// Add increases the counter by delta. Delta must be non-negative.
func (c *Counter) Add(delta float64) {
	if c.c == nil {
		return
	}
	c.c.Add(delta)
}

// Value reads the current value from the collector. It is used for testing
// and debug endpoints.
func (c *Counter) Value() float64 {
	if c.c == nil {
		return 0
	}
	m := &dto.Metric{}
	if err := c.c.Write(m); err != nil {
		panic("failed to read counter " + c.name + ": " + err.Error())
	}
	return m.GetCounter().GetValue()
}
