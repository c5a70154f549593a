package redis

import (
	"context"
	"errors"
	"time"

	"github.com/enverbisevac/lockmgr/lock"
	"github.com/redis/go-redis/v9"
)

var (
	DefaultOperationTimeout = 10 * time.Second
)

var _ lock.Store = (*Store)(nil)

var deleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// expireScript sets a new lease in milliseconds, or removes the lease when
// ARGV[2] is not positive.
var expireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[2]) > 0 then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	redis.call("PERSIST", KEYS[1])
	return 1
end
return 0
`)

// Store implements lock.Store on Redis. Acquisition is SET NX with PX, the
// owner checks run as Lua scripts so that compare and act happen in one
// command.
type Store struct {
	config Config
	client redis.UniversalClient
}

// New creates a lock store using client.
func New(client redis.UniversalClient, options ...Option) *Store {
	config := Config{
		OperationTimeout: DefaultOperationTimeout,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Store{
		config: config,
		client: client,
	}
}

func (s *Store) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// SetNX stores value at key if absent. A zero ttl stores it without expiry.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.context(ctx)
	defer cancel()

	return s.client.SetNX(ctx, key, value, time.Duration(millis(max(ttl, 0)))*time.Millisecond).Result()
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.context(ctx)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Del removes key.
func (s *Store) Del(ctx context.Context, key string) error {
	ctx, cancel := s.context(ctx)
	defer cancel()

	return s.client.Del(ctx, key).Err()
}

// CompareAndDelete removes key if it holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := s.context(ctx)
	defer cancel()

	n, err := deleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompareAndExpire sets the lease of key to ttl if it holds value.
func (s *Store) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.context(ctx)
	defer cancel()

	n, err := expireScript.Run(ctx, s.client, []string{key}, value, millis(ttl)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// millis converts ttl to whole milliseconds, rounding a positive ttl up so
// that a short lease never becomes zero, which means no expiry.
func millis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ttl > 0 && ttl%time.Millisecond != 0 {
		ms++
	}
	return ms
}
