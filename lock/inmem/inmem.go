package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/enverbisevac/lockmgr/lock"
)

var _ lock.Store = (*Store)(nil)

// entry is a lock record with an optional expiration time.
type entry struct {
	value  string
	expiry time.Time
}

func (e entry) isExpired(now time.Time) bool {
	return !e.expiry.IsZero() && !now.Before(e.expiry)
}

// Store implements lock.Store in process memory. Every method runs under one
// mutex, which makes each check-and-act atomic. Expired records are dropped
// when they are next touched.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates a new in-memory lock store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
	}
}

// lookup returns the live record for key, evicting it if it expired.
// Callers must hold s.mu.
func (s *Store) lookup(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.isExpired(now) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// SetNX stores value at key if no live record exists.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiry = now.Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// Get returns the live value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key, time.Now())
	return e.value, ok, nil
}

// Del removes key.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// CompareAndDelete removes key if it holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key, time.Now())
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareAndExpire moves the expiry of key to now+ttl if it holds value.
func (s *Store) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.lookup(key, now)
	if !ok || e.value != value {
		return false, nil
	}
	if ttl > 0 {
		e.expiry = now.Add(ttl)
	} else {
		e.expiry = time.Time{}
	}
	s.entries[key] = e
	return true, nil
}

// Sweep drops every expired record and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for key, e := range s.entries {
		if e.isExpired(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of records, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
