package relmq

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 10 * time.Second
)

// BreakerRegistry owns one circuit breaker per queue. It is injected into the
// dispatcher rather than held as process-global state so independent
// dispatcher instances do not interfere.
//
// Each breaker opens after a run of consecutive failures across messages,
// stays open for a fixed cool-down, and admits exactly one trial call while
// half-open. No sliding-window statistics are kept.
type BreakerRegistry struct {
	failures uint32
	cooldown time.Duration
	onChange func(queue string, from, to gobreaker.State)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// BreakerOption configures a BreakerRegistry.
type BreakerOption func(*BreakerRegistry)

// WithBreakerFailures sets the consecutive-failure threshold (default 5).
func WithBreakerFailures(n uint32) BreakerOption {
	return func(r *BreakerRegistry) {
		r.failures = n
	}
}

// WithBreakerCooldown sets how long an open breaker stays open (default 10s).
func WithBreakerCooldown(d time.Duration) BreakerOption {
	return func(r *BreakerRegistry) {
		r.cooldown = d
	}
}

// WithBreakerStateChange registers a state transition callback.
func WithBreakerStateChange(fn func(queue string, from, to gobreaker.State)) BreakerOption {
	return func(r *BreakerRegistry) {
		r.onChange = fn
	}
}

// NewBreakerRegistry constructs a registry with defaults applied.
func NewBreakerRegistry(opts ...BreakerOption) *BreakerRegistry {
	r := &BreakerRegistry{
		failures: defaultBreakerFailures,
		cooldown: defaultBreakerCooldown,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.failures == 0 {
		r.failures = defaultBreakerFailures
	}
	if r.cooldown <= 0 {
		r.cooldown = defaultBreakerCooldown
	}

	return r
}

// Get returns the breaker for a queue, creating it on first use.
func (r *BreakerRegistry) Get(queue string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[queue]; ok {
		return cb
	}

	threshold := r.failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        queue,
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.onChange != nil {
				r.onChange(name, from, to)
			}
		},
	})
	r.breakers[queue] = cb

	return cb
}
