package redis

import "time"

// Config holds the configuration for the redis lock store.
type Config struct {
	// OperationTimeout bounds every round trip to Redis. Zero leaves the
	// caller's context alone.
	OperationTimeout time.Duration
}

// Option configures a lock store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a store config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithOperationTimeout returns an option that bounds each Redis command.
func WithOperationTimeout(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if value >= 0 {
			c.OperationTimeout = value
		}
	})
}
