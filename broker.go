package relmq

import (
	"context"
	"time"
)

// Acknowledger settles one delivery. Implementations are provided by the
// transport adapter; the dispatcher issues exactly one call per delivery tag.
type Acknowledger interface {
	// Ack acknowledges the delivery.
	Ack(tag uint64) error
	// Nack negatively acknowledges the delivery, optionally requeueing it.
	Nack(tag uint64, requeue bool) error
}

// Delivery is one inbound message pulled from a subscription.
type Delivery struct {
	// Tag is the broker delivery tag.
	Tag uint64
	// Header is the message header reconstructed from wire properties.
	Header *MessageHeader
	// Body is the encoded payload.
	Body []byte
	// Acker settles the delivery.
	Acker Acknowledger
}

// BrokerChannel is the transport consumed by the engine. The rabbit package
// implements it over RabbitMQ; tests use in-memory fakes.
type BrokerChannel interface {
	// Publish sends a message to an exchange with the given routing key.
	Publish(ctx context.Context, exchange, routingKey string, body []byte, header *MessageHeader) error
	// Subscribe starts consuming a queue with the given prefetch cap.
	// The returned channel closes when the subscription ends.
	Subscribe(ctx context.Context, queue string, qos int) (<-chan Delivery, error)
	// DeclareQueue declares a durable queue. A positive ttl sets a
	// per-queue message TTL.
	DeclareQueue(ctx context.Context, queue string, ttl time.Duration) error
	// DeclareExchange declares a durable exchange of the given type.
	DeclareExchange(ctx context.Context, exchange, kind string) error
	// BindQueue binds a queue to an exchange with a routing key.
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error
}
