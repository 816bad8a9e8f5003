// Package rabbit implements relmq.BrokerChannel over RabbitMQ using
// github.com/rabbitmq/amqp091-go.
//
// Channels are pooled and checked out around each publish; a pool channel is
// never shared by two in-flight operations. Subscriptions run on dedicated
// channels so prefetch limits apply per queue.
package rabbit
