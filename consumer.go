package relmq

import (
	"context"
	"time"
)

// ConsumerState is the terminal disposition of one consumed message. It is
// produced only by the handler's fallback step and drives exactly one broker
// acknowledgment action.
type ConsumerState int

const (
	// Ack acknowledges the message and drops it.
	Ack ConsumerState = iota
	// Nack negatively acknowledges without requeue; a broker-level
	// dead-letter policy configured on the queue fires automatically.
	Nack
	// NackAndRequeue negatively acknowledges with the requeue flag so the
	// broker redelivers the message.
	NackAndRequeue
	// NackAndNoRequeue negatively acknowledges without requeue; if the
	// consumer options configure a dead-letter target, the dispatcher also
	// republishes the original message there.
	NackAndNoRequeue
	// Exception is fatal: no acknowledgment is issued and the error surfaces
	// to the fault handler, relying on broker redelivery-on-disconnect.
	Exception
)

// String returns the disposition name.
func (s ConsumerState) String() string {
	switch s {
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	case NackAndRequeue:
		return "nack-requeue"
	case NackAndNoRequeue:
		return "nack-no-requeue"
	case Exception:
		return "exception"
	default:
		return "unknown"
	}
}

const defaultQos = 100

// ConsumerOptions configures one queue subscription. Queue must be unique
// across all registered consumers; a duplicate registration fails at startup.
type ConsumerOptions struct {
	// Queue is the queue to consume from (required, globally unique).
	Queue string
	// Qos caps the number of messages in flight before any ack.
	// Zero uses the default of 100.
	Qos int
	// NoRequeueOnExhausted selects the default fallback disposition when
	// the handler does not implement its own: exhausted messages are
	// requeued by default; set true to dead-letter them instead.
	NoRequeueOnExhausted bool
	// DeadExchange and DeadRoutingKey configure an explicit dead-letter
	// target republished to by the dispatcher on NackAndNoRequeue.
	DeadExchange   string
	DeadRoutingKey string
	// BindExchange, ExchangeType and RoutingKey declare and bind topology
	// on start when BindExchange is non-empty.
	BindExchange string
	ExchangeType string
	RoutingKey   string
	// Expiration is an optional per-message TTL applied on publish paths.
	Expiration time.Duration
	// IsBroadcast declares the bound exchange as fanout.
	IsBroadcast bool
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.Qos <= 0 {
		o.Qos = defaultQos
	}
	if o.ExchangeType == "" {
		if o.IsBroadcast {
			o.ExchangeType = "fanout"
		} else {
			o.ExchangeType = "direct"
		}
	}

	return o
}

func (o ConsumerOptions) validate() error {
	if o.Queue == "" {
		return ErrQueueRequired
	}

	return nil
}

func (o ConsumerOptions) exhaustedState() ConsumerState {
	if o.NoRequeueOnExhausted {
		return NackAndNoRequeue
	}

	return NackAndRequeue
}

// MessageHandler processes messages from one queue.
type MessageHandler interface {
	// NewMessage returns a fresh value the payload is decoded into.
	NewMessage() any
	// Execute runs the business logic for one message.
	Execute(ctx context.Context, header *MessageHeader, msg any) error
	// OnAttemptFailed is invoked after every failed Execute attempt, before
	// any retry delay.
	OnAttemptFailed(ctx context.Context, err error, attempt int)
	// Fallback is invoked once the retry schedule is exhausted or the
	// circuit is open. Its return value is authoritative and terminal.
	// msg is nil when the payload could not be decoded.
	Fallback(ctx context.Context, header *MessageHeader, msg any, lastErr error) ConsumerState
}

// HandlerFuncs adapts plain functions to MessageHandler. Nil fields fall back
// to safe defaults: no decoding target, no attempt hook, and the disposition
// selected by ConsumerOptions.NoRequeueOnExhausted.
type HandlerFuncs struct {
	NewMessageFunc func() any
	ExecuteFunc    func(ctx context.Context, header *MessageHeader, msg any) error
	OnFailedFunc   func(ctx context.Context, err error, attempt int)
	FallbackFunc   func(ctx context.Context, header *MessageHeader, msg any, lastErr error) ConsumerState

	// ExhaustedState is returned by the default fallback. The dispatcher
	// fills it from ConsumerOptions when left at the zero value Ack.
	ExhaustedState ConsumerState
}

// NewMessage implements MessageHandler.
func (h *HandlerFuncs) NewMessage() any {
	if h.NewMessageFunc == nil {
		return nil
	}

	return h.NewMessageFunc()
}

// Execute implements MessageHandler.
func (h *HandlerFuncs) Execute(ctx context.Context, header *MessageHeader, msg any) error {
	if h.ExecuteFunc == nil {
		return nil
	}

	return h.ExecuteFunc(ctx, header, msg)
}

// OnAttemptFailed implements MessageHandler.
func (h *HandlerFuncs) OnAttemptFailed(ctx context.Context, err error, attempt int) {
	if h.OnFailedFunc != nil {
		h.OnFailedFunc(ctx, err, attempt)
	}
}

// Fallback implements MessageHandler.
func (h *HandlerFuncs) Fallback(ctx context.Context, header *MessageHeader, msg any, lastErr error) ConsumerState {
	if h.FallbackFunc != nil {
		return h.FallbackFunc(ctx, header, msg, lastErr)
	}

	return h.ExhaustedState
}
