package announce

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cakeday_announce"

// Collector is a prometheus.Collector for the announcer.
type Collector struct {
	sent         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	passes       prometheus.Counter
	passDuration prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sent_total",
				Help:      "The number of birthday greetings delivered.",
			}, []string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failures_total",
				Help:      "The number of birthday greetings that could not be delivered.",
			}, []string{"kind"},
		),
		passes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "passes_total",
				Help:      "The number of completed announcement passes.",
			},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "pass_duration_seconds",
				Help:      "The time taken by one announcement pass.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sent.Describe(ch)
	c.failures.Describe(ch)
	c.passes.Describe(ch)
	c.passDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sent.Collect(ch)
	c.failures.Collect(ch)
	c.passes.Collect(ch)
	c.passDuration.Collect(ch)
}
