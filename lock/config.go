package lock

import (
	"time"

	"github.com/enverbisevac/lockmgr/metrics"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRetryDelay is the pause between acquisition attempts.
const DefaultRetryDelay = 250 * time.Millisecond

// Config holds the configuration for the lock manager.
type Config struct {
	// Prefix is prepended to every lock key before it reaches the store.
	Prefix string

	// DefaultTTL is the lease of locks created without WithTTL.
	// Zero creates advisory locks that never expire.
	DefaultTTL time.Duration

	// Acquire is the default acquisition policy of new locks.
	Acquire AcquireConfig

	Metrics        metrics.Metrics
	TracerProvider trace.TracerProvider
}

// Option configures a lock manager instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a manager config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithPrefix returns an option that sets the key namespace, for example
// "app:lock:".
func WithPrefix(value string) Option {
	return OptionFunc(func(c *Config) {
		c.Prefix = value
	})
}

// WithDefaultTTL returns an option that sets the lease used by locks
// created without an explicit TTL.
func WithDefaultTTL(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if value >= 0 {
			c.DefaultTTL = leaseOf(value)
		}
	})
}

// WithDefaultAcquire returns an option that sets the acquisition policy
// shared by all locks of the manager.
func WithDefaultAcquire(options ...AcquireOption) Option {
	return OptionFunc(func(c *Config) {
		for _, opt := range options {
			opt.Apply(&c.Acquire)
		}
	})
}

// WithMetrics returns an option that sets the metrics collector.
func WithMetrics(value metrics.Metrics) Option {
	return OptionFunc(func(c *Config) {
		if value != nil {
			c.Metrics = value
		}
	})
}

// WithTracerProvider returns an option that sets the tracer provider used
// for lock spans.
func WithTracerProvider(value trace.TracerProvider) Option {
	return OptionFunc(func(c *Config) {
		if value != nil {
			c.TracerProvider = value
		}
	})
}

// LockConfig holds the configuration of a single lock handle.
type LockConfig struct {
	TTL     time.Duration
	Acquire AcquireConfig
}

// LockOption configures a lock handle.
type LockOption interface {
	Apply(*LockConfig)
}

// LockOptionFunc is a function that configures a lock config.
type LockOptionFunc func(*LockConfig)

// Apply calls f(config).
func (f LockOptionFunc) Apply(config *LockConfig) {
	f(config)
}

// WithTTL returns an option that sets the lease of the lock. Zero disables
// expiry: the lock stays until released or force released. Positive leases
// below one millisecond are rounded up to one millisecond.
func WithTTL(value time.Duration) LockOption {
	return LockOptionFunc(func(c *LockConfig) {
		if value >= 0 {
			c.TTL = leaseOf(value)
		}
	})
}

// WithAcquire returns an option that sets the acquisition policy used by
// Acquire without arguments, Run and the Manager helpers.
func WithAcquire(options ...AcquireOption) LockOption {
	return LockOptionFunc(func(c *LockConfig) {
		for _, opt := range options {
			opt.Apply(&c.Acquire)
		}
	})
}

// AcquireConfig is the retry policy of Acquire.
type AcquireConfig struct {
	// RetryCount is the maximum number of attempts. Zero retries forever.
	RetryCount int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// Timeout bounds the total time spent acquiring. Zero means no bound.
	Timeout time.Duration
}

// AcquireOption configures an acquisition.
type AcquireOption interface {
	Apply(*AcquireConfig)
}

// AcquireOptionFunc is a function that configures an acquire config.
type AcquireOptionFunc func(*AcquireConfig)

// Apply calls f(config).
func (f AcquireOptionFunc) Apply(config *AcquireConfig) {
	f(config)
}

// WithRetryCount returns an option that limits the number of attempts.
// Values below one mean unlimited.
func WithRetryCount(value int) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		c.RetryCount = max(value, 0)
	})
}

// WithRetryDelay returns an option that sets the pause between attempts.
func WithRetryDelay(value time.Duration) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		if value >= 0 {
			c.RetryDelay = value
		}
	})
}

// WithTimeout returns an option that bounds the wall clock time spent
// acquiring.
func WithTimeout(value time.Duration) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		if value >= 0 {
			c.Timeout = value
		}
	})
}

// leaseOf rounds a positive lease up to the one millisecond resolution of
// the stores, which read a zero lease as no expiry.
func leaseOf(d time.Duration) time.Duration {
	if d > 0 && d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
