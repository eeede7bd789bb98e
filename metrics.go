package rtc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rtc"

// Collector is a prometheus.Collector with metrics of stores and
// connections. One Collector may be shared by several stores and connections.
type Collector struct {
	emissions      *prometheus.CounterVec
	transactions   *prometheus.CounterVec
	failures       *prometheus.CounterVec
	recordsWritten *prometheus.CounterVec
	applyDuration  *prometheus.HistogramVec
	activeStreams  prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		emissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emissions_total",
				Help:      "The number of pipeline emissions received by connections.",
			}, []string{"connection"},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transactions_total",
				Help:      "The number of transactions committed by connections.",
			}, []string{"connection"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failures_total",
				Help:      "The number of connections that stopped with a failure.",
			}, []string{"connection", "kind"},
		),
		recordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "records_written_total",
				Help:      "The number of record writes that changed stored data.",
			}, []string{"schema"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "apply_duration_seconds",
				Help:      "The time taken to apply one emission in a transaction.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			}, []string{"connection"},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_record_streams",
				Help:      "The number of live record stream subscriptions.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.emissions.Describe(ch)
	c.transactions.Describe(ch)
	c.failures.Describe(ch)
	c.recordsWritten.Describe(ch)
	c.applyDuration.Describe(ch)
	c.activeStreams.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.emissions.Collect(ch)
	c.transactions.Collect(ch)
	c.failures.Collect(ch)
	c.recordsWritten.Collect(ch)
	c.applyDuration.Collect(ch)
	c.activeStreams.Collect(ch)
}

// The methods below accept a nil receiver, so callers don't need to check
// whether metrics are enabled.

func (c *Collector) emission(conn string) {
	if c != nil {
		c.emissions.WithLabelValues(conn).Inc()
	}
}

func (c *Collector) committed(conn string, d time.Duration) {
	if c != nil {
		c.transactions.WithLabelValues(conn).Inc()
		c.applyDuration.WithLabelValues(conn).Observe(d.Seconds())
	}
}

func (c *Collector) failed(conn string, kind FailureKind) {
	if c != nil {
		c.failures.WithLabelValues(conn, kind.String()).Inc()
	}
}

func (c *Collector) recordsCommitted(schemaID string, n int) {
	if c != nil {
		c.recordsWritten.WithLabelValues(schemaID).Add(float64(n))
	}
}

func (c *Collector) streamAdded() {
	if c != nil {
		c.activeStreams.Inc()
	}
}

func (c *Collector) streamRemoved() {
	if c != nil {
		c.activeStreams.Dec()
	}
}
