// Package prometheus provides a Prometheus implementation of metrics.Metrics.
package prometheus

import (
	"time"

	"github.com/enverbisevac/lockmgr/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ metrics.Metrics = (*Metrics)(nil)

// Metrics reports lock events as Prometheus counters and histograms.
// Lock keys are not used as labels to keep cardinality bounded.
type Metrics struct {
	acquiredTotal      prometheus.Counter
	failedTotal        *prometheus.CounterVec
	releasedTotal      prometheus.Counter
	releaseFailedTotal prometheus.Counter
	extendedTotal      prometheus.Counter
	extendFailedTotal  prometheus.Counter
	forceReleasedTotal prometheus.Counter
	acquireWait        prometheus.Histogram
	held               prometheus.Histogram
}

// Config holds configuration for Metrics.
type Config struct {
	// Namespace is the prefix for all metrics.
	Namespace string
	Subsystem string
	// Registry is the registerer to use. If nil, the default registerer is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "lockmgr",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates Metrics and registers its collectors with cfg.Registry.
func New(cfg Config) *Metrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		acquiredTotal: counter("lock_acquired_total", "Total number of locks acquired"),
		failedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_failed_total",
			Help:      "Total number of lock acquisitions that gave up",
		}, []string{"reason"}),
		releasedTotal:      counter("lock_released_total", "Total number of locks released by their owner"),
		releaseFailedTotal: counter("lock_release_failed_total", "Total number of releases rejected by the ownership check"),
		extendedTotal:      counter("lock_extended_total", "Total number of lock extensions"),
		extendFailedTotal:  counter("lock_extend_failed_total", "Total number of lock extension failures"),
		forceReleasedTotal: counter("lock_force_released_total", "Total number of administrative force releases"),
		acquireWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquire_wait_seconds",
			Help:      "Time spent waiting for a lock",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		held: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_held_seconds",
			Help:      "Time a lock was held before release",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Metrics) LockAcquired(wait time.Duration) {
	m.acquiredTotal.Inc()
	m.acquireWait.Observe(wait.Seconds())
}

func (m *Metrics) LockFailed(reason string) {
	m.failedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) LockReleased(held time.Duration) {
	m.releasedTotal.Inc()
	m.held.Observe(held.Seconds())
}

func (m *Metrics) LockReleaseFailed() {
	m.releaseFailedTotal.Inc()
}

func (m *Metrics) LockExtended() {
	m.extendedTotal.Inc()
}

func (m *Metrics) LockExtendFailed() {
	m.extendFailedTotal.Inc()
}

func (m *Metrics) LockForceReleased() {
	m.forceReleasedTotal.Inc()
}
