package relmq

import (
	"context"
	"time"
)

// OutboxStatus is the lifecycle state of an outbox row.
type OutboxStatus int16

const (
	// OutboxPending indicates the row has never been attempted.
	OutboxPending OutboxStatus = 0
	// OutboxProcessing indicates the row is claimed by a dispatcher. Rows
	// are claimed under a row lock, so this state is only observable while
	// the claiming transaction is open.
	OutboxProcessing OutboxStatus = 1
	// OutboxSucceeded indicates the row was published.
	OutboxSucceeded OutboxStatus = 2
	// OutboxFailed indicates the last publish attempt failed. Rows past the
	// retry budget stay Failed for operational inspection.
	OutboxFailed OutboxStatus = 3
)

// OutboxMessage is a durable record of an intended publish, created in the
// same local transaction as the triggering business write.
type OutboxMessage struct {
	MessageID     string
	Exchange      string
	RoutingKey    string
	Body          []byte
	Properties    []byte
	Status        OutboxStatus
	RetryCount    int
	NextRetryTime time.Time
	LastError     string
	CreateTime    time.Time
	UpdateTime    time.Time
}

// OutboxClaim is a single outbox row locked for publishing. Exactly one of
// Succeed, Fail, or Release must be called; Succeed and Fail commit the
// claiming transaction, Release rolls it back.
type OutboxClaim interface {
	// Message returns the claimed row.
	Message() *OutboxMessage
	// Succeed marks the row published and commits.
	Succeed(ctx context.Context) error
	// Fail records a publish failure, advances retry bookkeeping, and
	// commits.
	Fail(ctx context.Context, cause error, nextRetry time.Time) error
	// Release rolls the claiming transaction back, reverting the row to its
	// pre-claim state.
	Release() error
}

// OutboxSource provides locked outbox rows due for publishing. Claim returns
// ErrNoOutboxWork when no row is due. Row locking is the cross-process mutual
// exclusion mechanism: only one dispatcher instance can claim a given row.
type OutboxSource interface {
	Claim(ctx context.Context) (OutboxClaim, error)
}

// Backoff computes the wait before retrying a row with the given failed
// attempt count (always >= 1 when consulted).
type Backoff func(retryCount int) time.Duration

const backoffCap = 29 * time.Second

// DefaultBackoff doubles from one second and caps at 29s:
// 1s, 2s, 4s, 8s, 16s, 29s, 29s, ...
func DefaultBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	shift := retryCount - 1
	if shift > 5 {
		shift = 5
	}
	d := time.Duration(1<<shift) * time.Second
	if d > backoffCap {
		d = backoffCap
	}

	return d
}
