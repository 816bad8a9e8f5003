// Package prommetrics exposes engine counters and timings through Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relmq/relmq"
)

const namespace = "relmq"

// Metrics implements relmq.Metrics over Prometheus collectors.
type Metrics struct {
	consumeSeconds    *prometheus.HistogramVec
	acked             *prometheus.CounterVec
	requeued          *prometheus.CounterVec
	deadLettered      *prometheus.CounterVec
	executeRetries    *prometheus.CounterVec
	published         prometheus.Counter
	publishFailures   prometheus.Counter
	permanentFailures prometheus.Counter
}

var _ relmq.Metrics = (*Metrics)(nil)

// New builds the metric set and registers it with reg. A nil registerer
// leaves the collectors unregistered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		consumeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consume_duration_seconds",
			Help:      "End-to-end processing time of one delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acked_total",
			Help:      "Messages acknowledged.",
		}, []string{"queue"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requeued_total",
			Help:      "Messages nacked with requeue.",
		}, []string{"queue"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Messages republished to a dead-letter target.",
		}, []string{"queue"}),
		executeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execute_retries_total",
			Help:      "Failed execute attempts.",
		}, []string{"queue"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox rows published to the broker.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Failed outbox publish attempts.",
		}),
		permanentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_permanent_failures_total",
			Help:      "Outbox rows that exhausted their retry budget.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.consumeSeconds,
			m.acked,
			m.requeued,
			m.deadLettered,
			m.executeRetries,
			m.published,
			m.publishFailures,
			m.permanentFailures,
		)
	}

	return m
}

// ObserveConsume implements relmq.Metrics.
func (m *Metrics) ObserveConsume(queue string, duration time.Duration) {
	m.consumeSeconds.WithLabelValues(queue).Observe(duration.Seconds())
}

// AddAcked implements relmq.Metrics.
func (m *Metrics) AddAcked(queue string, count int) {
	m.acked.WithLabelValues(queue).Add(float64(count))
}

// AddRequeued implements relmq.Metrics.
func (m *Metrics) AddRequeued(queue string, count int) {
	m.requeued.WithLabelValues(queue).Add(float64(count))
}

// AddDeadLettered implements relmq.Metrics.
func (m *Metrics) AddDeadLettered(queue string, count int) {
	m.deadLettered.WithLabelValues(queue).Add(float64(count))
}

// AddExecuteRetries implements relmq.Metrics.
func (m *Metrics) AddExecuteRetries(queue string, count int) {
	m.executeRetries.WithLabelValues(queue).Add(float64(count))
}

// AddPublished implements relmq.Metrics.
func (m *Metrics) AddPublished(count int) {
	m.published.Add(float64(count))
}

// AddPublishFailures implements relmq.Metrics.
func (m *Metrics) AddPublishFailures(count int) {
	m.publishFailures.Add(float64(count))
}

// AddPermanentFailures implements relmq.Metrics.
func (m *Metrics) AddPermanentFailures(count int) {
	m.permanentFailures.Add(float64(count))
}
