package sqlstore

import (
	"fmt"
	"strings"

	"github.com/relmq/relmq"
)

const (
	defaultOutboxTable = "mq_publisher"
	defaultInboxTable  = "mq_consumer"
	defaultMaxRetry    = 5
)

// Config defines store behavior shared by the outbox and inbox stores.
type Config struct {
	// OutboxTable is the publisher table name (default "mq_publisher").
	OutboxTable string
	// InboxTable is the consumer table name (default "mq_consumer").
	InboxTable string
	// MaxRetry caps automatic claims per outbox row (default 5). Rows at or
	// past the cap are left Failed for manual inspection.
	MaxRetry int
	// AutoCreateTable lets callers opt in to EnsureSchema at startup.
	AutoCreateTable bool
	Clock           relmq.Clock
	Logger          relmq.Logger
}

func (c Config) withDefaults() Config {
	if c.OutboxTable == "" {
		c.OutboxTable = defaultOutboxTable
	}
	if c.InboxTable == "" {
		c.InboxTable = defaultInboxTable
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Clock == nil {
		c.Clock = relmq.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = relmq.NopLogger{}
	}

	return c
}

// Option configures the stores.
type Option func(*Config)

// WithOutboxTable sets the publisher table name.
func WithOutboxTable(name string) Option {
	return func(c *Config) {
		c.OutboxTable = name
	}
}

// WithInboxTable sets the consumer table name.
func WithInboxTable(name string) Option {
	return func(c *Config) {
		c.InboxTable = name
	}
}

// WithMaxRetry sets the automatic claim cap per outbox row.
func WithMaxRetry(max int) Option {
	return func(c *Config) {
		c.MaxRetry = max
	}
}

// WithAutoCreateTable marks the stores for schema bootstrap at startup.
func WithAutoCreateTable(enabled bool) Option {
	return func(c *Config) {
		c.AutoCreateTable = enabled
	}
}

// WithClock sets the time source used by the stores.
func WithClock(clock relmq.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the store logger.
func WithLogger(logger relmq.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}
