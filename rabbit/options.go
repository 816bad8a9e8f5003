package rabbit

import "github.com/relmq/relmq"

const defaultPoolSize = 8

// Config defines client behavior.
type Config struct {
	// PoolSize caps idle publish channels kept for reuse (default 8).
	PoolSize int
	// AppID stamps outbound messages lacking one in their header.
	AppID  string
	Logger relmq.Logger
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.Logger == nil {
		c.Logger = relmq.NopLogger{}
	}

	return c
}

// Option configures the client.
type Option func(*Config)

// WithPoolSize sets the idle channel pool capacity.
func WithPoolSize(size int) Option {
	return func(c *Config) {
		c.PoolSize = size
	}
}

// WithAppID sets the application id stamped on outbound messages.
func WithAppID(appID string) Option {
	return func(c *Config) {
		c.AppID = appID
	}
}

// WithLogger sets the client logger.
func WithLogger(logger relmq.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
