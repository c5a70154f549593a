// Package lock provides mutual exclusion of named critical sections across
// processes, coordinated through a shared key-value Store.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/enverbisevac/lockmgr/metrics"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the key-value backend locks coordinate through. Each method must
// execute as a single atomic operation on the backend.
type Store interface {
	// SetNX stores value at key only if the key is absent. A zero ttl stores
	// the value without expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value stored at key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Del removes key unconditionally.
	Del(ctx context.Context, key string) error

	// CompareAndDelete removes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// CompareAndExpire sets the expiry of key to ttl only if it currently
	// holds value.
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// State is the local lifecycle state of a Lock.
type State int

const (
	StateUnacquired State = iota
	StateAcquired
	StateReleased
	// StateExpired is reported once the local lease estimate has passed.
	// The store may disagree under clock drift.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnacquired:
		return "unacquired"
	case StateAcquired:
		return "acquired"
	case StateReleased:
		return "released"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Lock is a handle to one attempt at holding a key. The owner token is fixed
// at creation, so a handle can be acquired at most once; take a new handle
// from the Manager to lock the key again.
//
// The token is a bearer credential: whoever knows it can release or extend
// the lock.
type Lock struct {
	key      string
	storeKey string
	token    string
	ttl      time.Duration
	policy   AcquireConfig

	store   Store
	metrics metrics.Metrics
	tracer  trace.Tracer

	mu         sync.Mutex
	state      State
	acquiredAt time.Time
	expiresAt  time.Time
}

// Key returns the lock key as given by the caller, without prefix.
func (l *Lock) Key() string {
	return l.key
}

// Token returns the owner token stored with the lock.
func (l *Lock) Token() string {
	return l.token
}

// TTL returns the configured lease, zero for advisory locks.
func (l *Lock) TTL() time.Duration {
	return l.ttl
}

// State returns the local lifecycle state.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Lock) stateLocked() State {
	if l.state == StateAcquired && l.expiredLocked() {
		return StateExpired
	}
	return l.state
}

// Acquire tries to take the lock, retrying until the attempts or the timeout
// of the acquire policy run out. It reports false when the lock is held
// elsewhere for the whole budget. Store failures end the loop immediately and
// are returned as they are.
//
// The timeout also bounds each store round trip: an attempt still running
// when the budget is spent is abandoned and Acquire reports false.
//
// Without a retry count or timeout Acquire polls until it succeeds or ctx
// is done. Acquiring a handle that already holds the lock reports true
// without contacting the store.
func (l *Lock) Acquire(ctx context.Context, options ...AcquireOption) (bool, error) {
	config := l.policy
	for _, opt := range options {
		opt.Apply(&config)
	}

	ctx, span := l.tracer.Start(ctx, "lock.Acquire", trace.WithAttributes(
		attribute.String("lock.key", l.key),
		attribute.Int("lock.retry_count", config.RetryCount),
	))
	defer span.End()

	if l.State() == StateAcquired {
		span.SetAttributes(attribute.Int("lock.attempts", 0))
		return true, nil
	}

	log := logr.FromContextOrDiscard(ctx).WithValues("key", l.key)
	start := time.Now()
	var deadline time.Time
	if config.Timeout > 0 {
		deadline = start.Add(config.Timeout)
	}

	for attempt := 1; ; attempt++ {
		ok, err := l.attempt(ctx, deadline)
		if err != nil {
			if l.pastDeadline(ctx, deadline, err) {
				l.metrics.LockFailed(metrics.ReasonTimeout)
				span.SetAttributes(attribute.Int("lock.attempts", attempt))
				return false, nil
			}

			reason := metrics.ReasonStore
			if errors.Is(err, ErrClosed) {
				reason = metrics.ReasonClosed
			}
			l.metrics.LockFailed(reason)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		if ok {
			wait := time.Since(start)
			l.metrics.LockAcquired(wait)
			span.SetAttributes(attribute.Int("lock.attempts", attempt))
			return true, nil
		}

		if config.RetryCount > 0 && attempt >= config.RetryCount {
			l.metrics.LockFailed(metrics.ReasonRetries)
			span.SetAttributes(attribute.Int("lock.attempts", attempt))
			return false, nil
		}
		delay := config.RetryDelay
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				l.metrics.LockFailed(metrics.ReasonTimeout)
				span.SetAttributes(attribute.Int("lock.attempts", attempt))
				return false, nil
			}
			delay = min(delay, left)
		}

		log.V(1).Info("lock busy, retrying", "attempt", attempt, "delay", delay)

		if err := sleep(ctx, delay); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
	}
}

// attempt runs save under the acquire deadline, if any.
func (l *Lock) attempt(ctx context.Context, deadline time.Time) (bool, error) {
	if deadline.IsZero() {
		return l.save(ctx)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return l.save(ctx)
}

// pastDeadline reports whether err comes from the acquire budget running out
// rather than from the caller's context or the store.
func (l *Lock) pastDeadline(ctx context.Context, deadline time.Time, err error) bool {
	return !deadline.IsZero() &&
		ctx.Err() == nil &&
		!time.Now().Before(deadline) &&
		errors.Is(err, context.DeadlineExceeded)
}

// TryAcquire makes a single acquisition attempt.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	return l.Acquire(ctx, WithRetryCount(1))
}

// save performs the conditional write. An acquired handle reports success
// without a round trip; a released or expired one is closed.
func (l *Lock) save(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.stateLocked() {
	case StateAcquired:
		return true, nil
	case StateReleased, StateExpired:
		return false, ErrClosed
	}

	ok, err := l.store.SetNX(ctx, l.storeKey, l.token, l.ttl)
	if err != nil || !ok {
		return false, err
	}

	now := time.Now()
	l.state = StateAcquired
	l.acquiredAt = now
	if l.ttl > 0 {
		l.expiresAt = now.Add(l.ttl)
	}
	return true, nil
}

// Release deletes the lock record if it still holds this handle's token.
// It returns a *NotOwnedError when the record is missing or owned by
// someone else, and leaves the record untouched in that case.
func (l *Lock) Release(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "lock.Release", trace.WithAttributes(
		attribute.String("lock.key", l.key),
	))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.store.CompareAndDelete(ctx, l.storeKey, l.token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	held := l.state == StateAcquired
	if !ok {
		l.metrics.LockReleaseFailed()
		if held {
			// whatever happened in the store, this handle lost the lease
			l.state = StateReleased
			l.expiresAt = time.Time{}
		}
		err := &NotOwnedError{Key: l.key, Op: "release"}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if held {
		l.metrics.LockReleased(time.Since(l.acquiredAt))
	}
	l.state = StateReleased
	l.expiresAt = time.Time{}
	return nil
}

// Extend resets the store side lease to ttl if the record still holds this
// handle's token. A zero ttl reuses the lease the lock was created with, a
// positive ttl below one millisecond is rounded up to one millisecond.
//
// The store decides ownership. A handle reported as StateExpired whose
// record survived, for example under clock drift, is acquired again after a
// successful Extend.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if l.ttl <= 0 {
		return ErrNoTTL
	}
	if ttl <= 0 {
		ttl = l.ttl
	}
	ttl = leaseOf(ttl)

	ctx, span := l.tracer.Start(ctx, "lock.Extend", trace.WithAttributes(
		attribute.String("lock.key", l.key),
		attribute.Int64("lock.ttl_ms", ttl.Milliseconds()),
	))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.store.CompareAndExpire(ctx, l.storeKey, l.token, ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !ok {
		l.metrics.LockExtendFailed()
		err := &NotOwnedError{Key: l.key, Op: "extend"}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	l.metrics.LockExtended()
	l.expiresAt = time.Now().Add(ttl)
	return nil
}

// Exists reports whether any record is stored at the key, regardless of
// owner. The answer may be stale by the time the caller acts on it.
func (l *Lock) Exists(ctx context.Context) (bool, error) {
	_, ok, err := l.store.Get(ctx, l.storeKey)
	return ok, err
}

// IsExpired compares the local lease estimate with the clock. It is always
// false for advisory locks and for handles that never acquired.
func (l *Lock) IsExpired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiredLocked()
}

func (l *Lock) expiredLocked() bool {
	if l.ttl <= 0 || l.expiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(l.expiresAt)
}

// RemainingTime returns the time left on the local lease estimate. ok is
// false for advisory locks and for handles without a lease.
func (l *Lock) RemainingTime() (remaining time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ttl <= 0 || l.expiresAt.IsZero() {
		return 0, false
	}
	return max(time.Until(l.expiresAt), 0), true
}

// Run acquires the lock with the handle's acquire policy and calls fn while
// holding it. acquired tells a lost race apart from a failing fn. The lock is
// released on every exit path of fn, panics included; a release failure is
// returned even when fn succeeded.
func (l *Lock) Run(ctx context.Context, fn func(ctx context.Context) error) (acquired bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	return true, l.runHeld(ctx, fn)
}

func (l *Lock) runHeld(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		rerr := l.Release(context.WithoutCancel(ctx))
		if rerr == nil {
			return
		}
		logr.FromContextOrDiscard(ctx).Error(rerr, "lock: release after critical section", "key", l.key)
		if err == nil {
			err = rerr
		} else {
			err = errors.Join(err, rerr)
		}
	}()

	return fn(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
