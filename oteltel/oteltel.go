// Package oteltel exports engine events as OpenTelemetry spans.
package oteltel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relmq/relmq"
)

const tracerName = "github.com/relmq/relmq"

// Telemetry implements relmq.Telemetry by opening a span per consume and
// publish and recording retries and fallback decisions as span events.
type Telemetry struct {
	tracer trace.Tracer
}

var _ relmq.Telemetry = (*Telemetry)(nil)

// New builds a telemetry sink on the given tracer provider. A nil provider
// falls back to the global one.
func New(tp trace.TracerProvider) *Telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Telemetry{tracer: tp.Tracer(tracerName)}
}

// ConsumeStart implements relmq.Telemetry.
func (t *Telemetry) ConsumeStart(queue string, header *relmq.MessageHeader) func(state relmq.ConsumerState, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", queue),
	}
	if header != nil {
		attrs = append(attrs,
			attribute.String("messaging.message.id", header.ID),
			attribute.String("messaging.message.type", header.Type),
		)
	}

	_, span := t.tracer.Start(context.Background(), "relmq.consume "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)

	return func(state relmq.ConsumerState, err error) {
		span.SetAttributes(attribute.String("relmq.disposition", state.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// PublishStart implements relmq.Telemetry.
func (t *Telemetry) PublishStart(exchange, routingKey, messageID string) func(err error) {
	_, span := t.tracer.Start(context.Background(), "relmq.publish "+exchange,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
			attribute.String("messaging.message.id", messageID),
		),
	)

	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RetryAttempt implements relmq.Telemetry.
func (t *Telemetry) RetryAttempt(queue, messageID string, attempt int, err error) {
	_, span := t.tracer.Start(context.Background(), "relmq.retry "+queue,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", messageID),
			attribute.Int("relmq.attempt", attempt),
		),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// FallbackInvoked implements relmq.Telemetry.
func (t *Telemetry) FallbackInvoked(queue, messageID string, state relmq.ConsumerState) {
	_, span := t.tracer.Start(context.Background(), "relmq.fallback "+queue,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", messageID),
			attribute.String("relmq.disposition", state.String()),
		),
	)
	span.End()
}
