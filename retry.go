package relmq

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	maxDelayShift      = 16
)

// Schedule is a bounded retry plan for one message.
type Schedule interface {
	// Attempts returns how many Execute attempts may run, including the
	// first one. Zero means the budget is already exhausted.
	Attempts() int
	// Delay returns how long to wait after failed attempt n (1-based)
	// before attempt n+1.
	Delay(n int) time.Duration
}

// FailureRecorder is implemented by schedules that persist attempt counts
// externally. The dispatcher invokes it after every failed attempt.
type FailureRecorder interface {
	// RecordFailure persists one failed attempt.
	RecordFailure(ctx context.Context) error
}

// RetryPolicy produces a retry schedule per message.
type RetryPolicy interface {
	// Create returns the schedule for a message on a queue.
	Create(ctx context.Context, queue, messageID string) (Schedule, error)
}

// ExponentialPolicy retries with exponentially growing delays. One schedule
// is cached per queue since scheduling parameters do not vary per message.
type ExponentialPolicy struct {
	// MaxAttempts caps Execute attempts including the first (default 3).
	MaxAttempts int
	// BaseDelay is the wait after the first failure (default 1s); each
	// subsequent wait doubles.
	BaseDelay time.Duration

	mu    sync.Mutex
	cache map[string]Schedule
}

// Create implements RetryPolicy.
func (p *ExponentialPolicy) Create(_ context.Context, queue, _ string) (Schedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache == nil {
		p.cache = make(map[string]Schedule)
	}
	if s, ok := p.cache[queue]; ok {
		return s, nil
	}

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	s := expSchedule{attempts: attempts, base: base}
	p.cache[queue] = s

	return s, nil
}

type expSchedule struct {
	attempts int
	base     time.Duration
}

func (s expSchedule) Attempts() int { return s.attempts }

func (s expSchedule) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	shift := n - 1
	if shift > maxDelayShift {
		shift = maxDelayShift
	}

	return s.base << shift
}

// AttemptStore persists failed-attempt counts keyed by queue and message id so
// a retry budget survives process restarts and is shared across horizontally
// scaled consumers. The redisretry package provides a Redis-backed store.
type AttemptStore interface {
	// Attempts returns the persisted failed-attempt count for a key.
	Attempts(ctx context.Context, key string) (int, error)
	// RecordFailure increments and returns the failed-attempt count.
	RecordFailure(ctx context.Context, key string) (int, error)
}

// StorePolicy derives each message's remaining attempts from an AttemptStore:
// remaining = MaxAttempts - persisted count, with delays of
// 2^(persisted+local) seconds.
type StorePolicy struct {
	Store AttemptStore
	// MaxAttempts caps total Execute attempts across restarts (default 3).
	MaxAttempts int
}

// Create implements RetryPolicy.
func (p *StorePolicy) Create(ctx context.Context, queue, messageID string) (Schedule, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	key := queue + ":" + messageID
	persisted, err := p.Store.Attempts(ctx, key)
	if err != nil {
		return nil, err
	}

	remaining := maxAttempts - persisted
	if remaining < 0 {
		remaining = 0
	}

	return &storeSchedule{store: p.Store, key: key, persisted: persisted, attempts: remaining}, nil
}

type storeSchedule struct {
	store     AttemptStore
	key       string
	persisted int
	attempts  int
}

func (s *storeSchedule) Attempts() int { return s.attempts }

func (s *storeSchedule) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	shift := s.persisted + n
	if shift > maxDelayShift {
		shift = maxDelayShift
	}

	return time.Duration(1<<shift) * time.Second
}

// RecordFailure implements FailureRecorder.
func (s *storeSchedule) RecordFailure(ctx context.Context) error {
	_, err := s.store.RecordFailure(ctx, s.key)

	return err
}
