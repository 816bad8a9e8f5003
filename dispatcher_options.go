package relmq

import "time"

const defaultBreakerPoll = 100 * time.Millisecond

// DispatcherConfig defines shared dispatcher collaborators. All fields are
// optional; zero values fall back to safe defaults.
type DispatcherConfig struct {
	// Codecs selects payload codecs by content type.
	Codecs *CodecRegistry
	// Retry produces per-message retry schedules.
	Retry RetryPolicy
	// Breakers provides per-queue circuit breakers. Nil disables breaking.
	Breakers *BreakerRegistry
	// BreakerPoll is how often a paused queue re-checks an open breaker.
	BreakerPoll time.Duration
	// FaultHandler receives Exception dispositions.
	FaultHandler FaultHandler
	Clock        Clock
	Logger       Logger
	Metrics      Metrics
	Telemetry    Telemetry
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Codecs == nil {
		c.Codecs = NewCodecRegistry()
	}
	if c.Retry == nil {
		c.Retry = &ExponentialPolicy{}
	}
	if c.BreakerPoll <= 0 {
		c.BreakerPoll = defaultBreakerPoll
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Telemetry == nil {
		c.Telemetry = NopTelemetry{}
	}
	if c.FaultHandler == nil {
		logger := c.Logger
		c.FaultHandler = func(queue string, header *MessageHeader, err error) {
			id := ""
			if header != nil {
				id = header.ID
			}
			logger.Error("unhandled consumer fault", "queue", queue, "message_id", id, "err", err)
		}
	}

	return c
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*DispatcherConfig)

// WithCodecs sets the codec registry.
func WithCodecs(codecs *CodecRegistry) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Codecs = codecs
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy RetryPolicy) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Retry = policy
	}
}

// WithBreakers wires a circuit breaker registry.
func WithBreakers(registry *BreakerRegistry) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Breakers = registry
	}
}

// WithBreakerPoll sets the open-breaker re-check interval.
func WithBreakerPoll(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.BreakerPoll = interval
	}
}

// WithFaultHandler sets the fatal-error callback.
func WithFaultHandler(handler FaultHandler) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.FaultHandler = handler
	}
}

// WithClock sets the dispatcher clock.
func WithClock(clock Clock) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger Logger) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the dispatcher metrics recorder.
func WithMetrics(metrics Metrics) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Metrics = metrics
	}
}

// WithTelemetry sets the dispatcher telemetry sink.
func WithTelemetry(t Telemetry) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Telemetry = t
	}
}
