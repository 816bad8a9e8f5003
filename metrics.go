package relmq

import "time"

// Metrics captures engine-level telemetry counters. The prommetrics package
// provides a Prometheus-backed implementation.
type Metrics interface {
	// ObserveConsume records the end-to-end processing time of one message.
	ObserveConsume(queue string, duration time.Duration)
	// AddAcked increments the count of acknowledged messages.
	AddAcked(queue string, count int)
	// AddRequeued increments the count of messages nacked with requeue.
	AddRequeued(queue string, count int)
	// AddDeadLettered increments the count of dead-lettered messages.
	AddDeadLettered(queue string, count int)
	// AddExecuteRetries increments the count of failed execute attempts.
	AddExecuteRetries(queue string, count int)
	// AddPublished increments the count of outbox rows published.
	AddPublished(count int)
	// AddPublishFailures increments the count of failed publish attempts.
	AddPublishFailures(count int)
	// AddPermanentFailures increments the count of outbox rows that
	// exhausted their retry budget.
	AddPermanentFailures(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveConsume implements Metrics.
func (NopMetrics) ObserveConsume(string, time.Duration) {}

// AddAcked implements Metrics.
func (NopMetrics) AddAcked(string, int) {}

// AddRequeued implements Metrics.
func (NopMetrics) AddRequeued(string, int) {}

// AddDeadLettered implements Metrics.
func (NopMetrics) AddDeadLettered(string, int) {}

// AddExecuteRetries implements Metrics.
func (NopMetrics) AddExecuteRetries(string, int) {}

// AddPublished implements Metrics.
func (NopMetrics) AddPublished(int) {}

// AddPublishFailures implements Metrics.
func (NopMetrics) AddPublishFailures(int) {}

// AddPermanentFailures implements Metrics.
func (NopMetrics) AddPermanentFailures(int) {}
