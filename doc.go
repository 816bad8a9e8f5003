// Package relmq is a client-side reliability layer for AMQP message queuing.
//
// It turns a raw broker channel into a delivery engine offering
// bounded-concurrency consumption, retry with backoff, circuit breaking, and
// dead-letter routing, plus a transactional outbox/inbox subsystem for
// publishers and consumers whose business state lives in a relational
// database.
//
// Typical flow:
//  1. Publish side: within a business transaction, register an intended
//     publish with a storage-specific outbox store. Run a Relay with that
//     store to poll, lock, and publish due rows through a BrokerChannel.
//  2. Consume side: start a Dispatcher subscription per queue. Each message
//     runs through the queue's retry schedule and circuit breaker; the
//     handler's Fallback decides the terminal disposition (ack, nack,
//     requeue, or dead-letter).
//  3. Idempotency: consumers that must apply a business effect exactly once
//     claim an inbox barrier row inside their local transaction before
//     executing business logic.
//
// For the database/sql stores (MySQL and Postgres dialects), see the sqlstore
// package. For the RabbitMQ transport adapter, see the rabbit package.
package relmq
