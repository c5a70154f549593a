package lock

import (
	"context"

	"github.com/enverbisevac/lockmgr/metrics"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/enverbisevac/lockmgr/lock"

// Manager creates locks bound to one store and runs callbacks under them.
type Manager struct {
	config Config
	store  Store
	tracer trace.Tracer
}

// New creates a lock manager on top of store.
func New(store Store, options ...Option) *Manager {
	config := Config{
		Acquire: AcquireConfig{
			RetryDelay: DefaultRetryDelay,
		},
		Metrics:        metrics.Noop{},
		TracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Manager{
		config: config,
		store:  store,
		tracer: config.TracerProvider.Tracer(tracerName),
	}
}

// NewLock creates an unacquired lock handle with a fresh owner token.
// The store is not contacted.
func (m *Manager) NewLock(key string, options ...LockOption) *Lock {
	config := LockConfig{
		TTL:     m.config.DefaultTTL,
		Acquire: m.config.Acquire,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Lock{
		key:      key,
		storeKey: m.config.Prefix + key,
		token:    uuid.NewString(),
		ttl:      config.TTL,
		policy:   config.Acquire,
		store:    m.store,
		metrics:  m.config.Metrics,
		tracer:   m.tracer,
	}
}

// WithLock acquires key, calls fn and releases the lock afterwards, also
// when fn fails or panics. It returns an *AcquisitionFailedError if the lock
// could not be obtained within the acquire policy.
//
// A failed release is reported even if fn succeeded; when both fail the
// errors are joined.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error, options ...LockOption) error {
	l := m.NewLock(key, options...)

	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &AcquisitionFailedError{Key: key}
	}

	return l.runHeld(ctx, fn)
}

// RunWithLock behaves like WithLock, going through Lock.Run.
func (m *Manager) RunWithLock(ctx context.Context, key string, fn func(ctx context.Context) error, options ...LockOption) error {
	l := m.NewLock(key, options...)

	acquired, err := l.Run(ctx, fn)
	if !acquired && err == nil {
		return &AcquisitionFailedError{Key: key}
	}
	return err
}

// WithLockValue is WithLock for callbacks producing a value. The value is
// returned even when only the release failed.
func WithLockValue[T any](ctx context.Context, m *Manager, key string, fn func(ctx context.Context) (T, error), options ...LockOption) (T, error) {
	var result T
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	}, options...)
	return result, err
}

// IsLocked reports whether a record exists for key. The check is not atomic
// with anything the caller does next.
func (m *Manager) IsLocked(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.store.Get(ctx, m.config.Prefix+key)
	return ok, err
}

// ForceRelease deletes the record for key without checking the owner.
//
// This breaks mutual exclusion if a holder is still inside its critical
// section. Use it only from recovery tooling, for example to clear an
// advisory lock left behind by a crashed process.
func (m *Manager) ForceRelease(ctx context.Context, key string) error {
	ctx, span := m.tracer.Start(ctx, "lock.ForceRelease", trace.WithAttributes(
		attribute.String("lock.key", key),
	))
	defer span.End()

	if err := m.store.Del(ctx, m.config.Prefix+key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.config.Metrics.LockForceReleased()
	logr.FromContextOrDiscard(ctx).Info("lock force released", "key", key)
	return nil
}
