package relmq

import (
	"time"

	"github.com/google/uuid"
)

const (
	defaultScanInterval = time.Second
	defaultMaxRetry     = 5
	defaultRelayWorkers = 1
)

// RelayConfig defines how the Relay polls and resolves outbox rows.
type RelayConfig struct {
	// ScanInterval is the sleep between empty polls (default 1s). A poll
	// that finds work loops again immediately.
	ScanInterval time.Duration
	// MaxRetry caps automatic publish retries per row (default 5). A row
	// reaching the cap stays Failed for manual inspection.
	MaxRetry int
	// Backoff computes the retry wait per failed attempt count.
	Backoff Backoff
	// Workers is the number of concurrent polling workers.
	Workers int
	// NodeID identifies this dispatcher instance in logs.
	NodeID    string
	Clock     Clock
	Logger    Logger
	Metrics   Metrics
	Telemetry Telemetry
	// FailureHook runs after each failed publish attempt.
	FailureHook FailureHook
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
	if c.Workers <= 0 {
		c.Workers = defaultRelayWorkers
	}
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
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

	return c
}

// RelayOption configures Relay behavior.
type RelayOption func(*RelayConfig)

// WithScanInterval sets the delay between empty polls.
func WithScanInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.ScanInterval = interval
	}
}

// WithMaxRetry sets the automatic retry cap per outbox row.
func WithMaxRetry(max int) RelayOption {
	return func(c *RelayConfig) {
		c.MaxRetry = max
	}
}

// WithBackoff sets the retry backoff function.
func WithBackoff(backoff Backoff) RelayOption {
	return func(c *RelayConfig) {
		c.Backoff = backoff
	}
}

// WithRelayWorkers sets the number of concurrent polling workers.
func WithRelayWorkers(count int) RelayOption {
	return func(c *RelayConfig) {
		c.Workers = count
	}
}

// WithNodeID sets the dispatcher instance identity.
func WithNodeID(id string) RelayOption {
	return func(c *RelayConfig) {
		c.NodeID = id
	}
}

// WithRelayClock sets the relay clock.
func WithRelayClock(clock Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(logger Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithRelayMetrics sets the relay metrics recorder.
func WithRelayMetrics(metrics Metrics) RelayOption {
	return func(c *RelayConfig) {
		c.Metrics = metrics
	}
}

// WithRelayTelemetry sets the relay telemetry sink.
func WithRelayTelemetry(t Telemetry) RelayOption {
	return func(c *RelayConfig) {
		c.Telemetry = t
	}
}

// WithFailureHook registers a callback for failed publish attempts.
func WithFailureHook(hook FailureHook) RelayOption {
	return func(c *RelayConfig) {
		c.FailureHook = hook
	}
}
