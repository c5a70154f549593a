package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enverbisevac/lockmgr/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"golang.org/x/sync/errgroup"
)

func getTestClient(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestIntegrationLeaseExpiry(t *testing.T) {
	client := getTestClient(t)
	m := lock.New(New(client))
	ctx := context.Background()

	l1 := m.NewLock("withdrawal:1", lock.WithTTL(10*time.Millisecond))
	ok, err := l1.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	l2 := m.NewLock("withdrawal:1")
	ok, err = l2.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l2.Release(ctx))
}

func TestIntegrationContention(t *testing.T) {
	client := getTestClient(t)
	m := lock.New(New(client), lock.WithDefaultAcquire(lock.WithRetryDelay(2*time.Millisecond)))
	ctx := context.Background()

	var inside, counter int64
	g, ctx := errgroup.WithContext(ctx)
	for range 20 {
		g.Go(func() error {
			return m.WithLock(ctx, "counter", func(context.Context) error {
				if atomic.AddInt64(&inside, 1) != 1 {
					t.Error("two holders inside the critical section")
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&counter, 1)
				atomic.AddInt64(&inside, -1)
				return nil
			}, lock.WithTTL(5*time.Second))
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 20, counter)

	locked, err := m.IsLocked(context.Background(), "counter")
	require.NoError(t, err)
	assert.False(t, locked)
}
