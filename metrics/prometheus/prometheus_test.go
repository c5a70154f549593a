package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/enverbisevac/lockmgr/lock"
	"github.com/enverbisevac/lockmgr/lock/inmem"
	"github.com/enverbisevac/lockmgr/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Namespace != "lockmgr" {
		t.Errorf("expected namespace 'lockmgr', got '%s'", cfg.Namespace)
	}
	if cfg.Registry != prometheus.DefaultRegisterer {
		t.Error("expected default registry")
	}
}

func TestLockFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.LockFailed(metrics.ReasonRetries)
	m.LockFailed(metrics.ReasonRetries)
	m.LockFailed(metrics.ReasonStore)

	if got := testutil.ToFloat64(m.failedTotal.WithLabelValues(metrics.ReasonRetries)); got != 2 {
		t.Errorf("expected retries count 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.failedTotal.WithLabelValues(metrics.ReasonStore)); got != 1 {
		t.Errorf("expected store count 1, got %f", got)
	}
}

func TestManagerReportsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})
	manager := lock.New(inmem.New(), lock.WithMetrics(m))
	ctx := context.Background()

	l := manager.NewLock("k", lock.WithTTL(time.Minute))
	if ok, err := l.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v", ok, err)
	}
	if ok, _ := manager.NewLock("k").TryAcquire(ctx); ok {
		t.Fatal("second handle must not acquire")
	}
	if err := l.Extend(ctx, 0); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	if err := manager.NewLock("k", lock.WithTTL(time.Second)).Extend(ctx, 0); !lock.IsNotOwned(err) {
		t.Fatalf("Extend() by intruder error = %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := l.Release(ctx); !lock.IsNotOwned(err) {
		t.Fatalf("second Release() error = %v", err)
	}
	if err := manager.ForceRelease(ctx, "k"); err != nil {
		t.Fatalf("ForceRelease() error = %v", err)
	}

	for name, c := range map[string]struct {
		collector prometheus.Collector
		want      float64
	}{
		"acquired":       {m.acquiredTotal, 1},
		"failed retries": {m.failedTotal.WithLabelValues(metrics.ReasonRetries), 1},
		"extended":       {m.extendedTotal, 1},
		"extend failed":  {m.extendFailedTotal, 1},
		"released":       {m.releasedTotal, 1},
		"release failed": {m.releaseFailedTotal, 1},
		"force released": {m.forceReleasedTotal, 1},
	} {
		if got := testutil.ToFloat64(c.collector); got != c.want {
			t.Errorf("%s = %f, want %f", name, got, c.want)
		}
	}

	if n := testutil.CollectAndCount(m.acquireWait); n != 1 {
		t.Errorf("expected acquire wait histogram, got %d series", n)
	}
}
