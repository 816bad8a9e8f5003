package relmq

import "errors"

var (
	// ErrHeaderRequired indicates a missing message header.
	ErrHeaderRequired = errors.New("relmq: message header is required")
	// ErrMessageIDRequired indicates a header without a message id.
	ErrMessageIDRequired = errors.New("relmq: message id is required")
	// ErrQueueRequired indicates consumer options without a queue name.
	ErrQueueRequired = errors.New("relmq: queue name is required")
	// ErrHandlerRequired indicates a nil message handler.
	ErrHandlerRequired = errors.New("relmq: message handler is required")
	// ErrDuplicateQueue indicates a second registration for the same queue.
	ErrDuplicateQueue = errors.New("relmq: queue is already registered")
	// ErrUnknownQueue indicates a stop request for a queue never started.
	ErrUnknownQueue = errors.New("relmq: queue is not registered")
	// ErrNoCodec indicates that no codec matched a content type.
	ErrNoCodec = errors.New("relmq: no codec for content type")
	// ErrRetryExhausted indicates a message whose persisted retry budget
	// was already spent before any local attempt ran.
	ErrRetryExhausted = errors.New("relmq: retry budget exhausted")
	// ErrNoOutboxWork signals that no outbox row is due for publishing.
	ErrNoOutboxWork = errors.New("relmq: no outbox work available")
	// ErrBarrierViolated indicates a broken inbox idempotency guarantee:
	// a barrier status update matched zero rows.
	ErrBarrierViolated = errors.New("relmq: inbox barrier contract violated")
	// ErrRelayWorkerPanic indicates a relay worker panic.
	ErrRelayWorkerPanic = errors.New("relmq: relay worker panic")
	// ErrDispatcherClosed indicates use of a dispatcher after Close.
	ErrDispatcherClosed = errors.New("relmq: dispatcher is closed")
)
