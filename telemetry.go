package relmq

// Telemetry receives structured start/stop/exception events from the engine.
// Exporters (tracing, auditing) implement this interface; the oteltel package
// provides an OpenTelemetry-backed sink.
type Telemetry interface {
	// ConsumeStart marks the beginning of one message's processing. The
	// returned function must be called exactly once with the terminal
	// disposition and error, if any.
	ConsumeStart(queue string, header *MessageHeader) func(state ConsumerState, err error)
	// PublishStart marks the beginning of one publish attempt. The returned
	// function must be called exactly once with the publish outcome.
	PublishStart(exchange, routingKey, messageID string) func(err error)
	// RetryAttempt reports a failed execute attempt before any retry delay.
	RetryAttempt(queue, messageID string, attempt int, err error)
	// FallbackInvoked reports the authoritative fallback decision.
	FallbackInvoked(queue, messageID string, state ConsumerState)
}

// NopTelemetry is a no-op telemetry sink.
type NopTelemetry struct{}

// ConsumeStart implements Telemetry.
func (NopTelemetry) ConsumeStart(string, *MessageHeader) func(ConsumerState, error) {
	return func(ConsumerState, error) {}
}

// PublishStart implements Telemetry.
func (NopTelemetry) PublishStart(string, string, string) func(error) {
	return func(error) {}
}

// RetryAttempt implements Telemetry.
func (NopTelemetry) RetryAttempt(string, string, int, error) {}

// FallbackInvoked implements Telemetry.
func (NopTelemetry) FallbackInvoked(string, string, ConsumerState) {}
