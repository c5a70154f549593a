// Package metrics defines the collector interface the lock manager reports to.
package metrics

import "time"

// Failure reasons reported through LockFailed.
const (
	ReasonRetries = "retries"
	ReasonTimeout = "timeout"
	ReasonStore   = "store"
	ReasonClosed  = "closed"
)

// Metrics collects lock lifecycle events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// LockAcquired records a successful acquisition and the time spent waiting.
	LockAcquired(wait time.Duration)
	// LockFailed records an acquisition that gave up.
	LockFailed(reason string)
	// LockReleased records an owner release and how long the lock was held.
	LockReleased(held time.Duration)
	// LockReleaseFailed records a release rejected by the ownership check.
	LockReleaseFailed()
	LockExtended()
	LockExtendFailed()
	LockForceReleased()
}

// Noop is a Metrics implementation that discards everything.
type Noop struct{}

var _ Metrics = Noop{}

func (Noop) LockAcquired(time.Duration) {}
func (Noop) LockFailed(string)          {}
func (Noop) LockReleased(time.Duration) {}
func (Noop) LockReleaseFailed()         {}
func (Noop) LockExtended()              {}
func (Noop) LockExtendFailed()          {}
func (Noop) LockForceReleased()         {}
