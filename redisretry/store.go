// Package redisretry persists consumer retry budgets in Redis so they
// survive process restarts and are shared across horizontally scaled
// consumers.
package redisretry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relmq/relmq"
)

const (
	defaultKeyPrefix = "relmq:attempts:"
	defaultTTL       = 24 * time.Hour
)

// ErrClientRequired is returned when no Redis client is provided.
var ErrClientRequired = errors.New("redisretry: redis client is required")

// Store implements relmq.AttemptStore over Redis. Keys expire after the
// configured TTL so abandoned budgets do not accumulate.
type Store struct {
	client redis.Cmdable
	cfg    Config
}

var _ relmq.AttemptStore = (*Store)(nil)

// Config defines store behavior.
type Config struct {
	// KeyPrefix namespaces attempt keys (default "relmq:attempts:").
	KeyPrefix string
	// TTL bounds how long an attempt count is kept (default 24h).
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}

	return c
}

// Option configures the store.
type Option func(*Config)

// WithKeyPrefix sets the attempt key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithTTL sets how long attempt counts are kept.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// NewStore constructs a Redis attempt store.
func NewStore(client redis.Cmdable, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{client: client, cfg: cfg.withDefaults()}, nil
}

// Attempts implements relmq.AttemptStore.
func (s *Store) Attempts(ctx context.Context, key string) (int, error) {
	count, err := s.client.Get(ctx, s.cfg.KeyPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, fmt.Errorf("redisretry: get attempts failed: %w", err)
	}

	return count, nil
}

// RecordFailure implements relmq.AttemptStore: it increments the count and
// refreshes the key TTL in one round trip.
func (s *Store) RecordFailure(ctx context.Context, key string) (int, error) {
	fullKey := s.cfg.KeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redisretry: record failure failed: %w", err)
	}

	return int(incr.Val()), nil
}

// Reset clears the attempt count, typically after a successful execute.
func (s *Store) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.cfg.KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redisretry: reset failed: %w", err)
	}

	return nil
}
