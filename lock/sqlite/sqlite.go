// Package sqlite implements lock.Store on an SQLite database through the
// pure Go modernc.org/sqlite driver. It serves processes sharing one host,
// for example several workers of a single node deployment.
//
// Open the database with a busy timeout so writers queue instead of failing
// with SQLITE_BUSY:
//
//	db, err := sql.Open("sqlite", "file:locks.db?_pragma=busy_timeout(5000)")
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enverbisevac/lockmgr/lock"

	_ "modernc.org/sqlite"
)

var _ lock.Store = (*Store)(nil)

// Store implements lock.Store on an SQLite table. Expiry is stored as unix
// milliseconds and compared against the local clock.
type Store struct {
	config Config
	db     *sql.DB
	now    func() time.Time

	queries queries
}

type queries struct {
	setNX         string
	get           string
	del           string
	compareDelete string
	compareExpire string
	purge         string
}

func newQueries(table string) queries {
	const live = "(expires_at IS NULL OR expires_at > ?)"

	return queries{
		setNX: fmt.Sprintf(`INSERT INTO %s (key, owner, expires_at, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE
	SET owner = excluded.owner, expires_at = excluded.expires_at, created_at = excluded.created_at
	WHERE expires_at IS NOT NULL AND expires_at <= ?`, table),
		get:           fmt.Sprintf("SELECT owner FROM %s WHERE key = ? AND %s", table, live),
		del:           fmt.Sprintf("DELETE FROM %s WHERE key = ?", table),
		compareDelete: fmt.Sprintf("DELETE FROM %s WHERE key = ? AND owner = ? AND %s", table, live),
		compareExpire: fmt.Sprintf("UPDATE %s SET expires_at = ? WHERE key = ? AND owner = ? AND %s", table, live),
		purge:         fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?", table),
	}
}

// New creates a new lock store on db.
func New(db *sql.DB, options ...Option) *Store {
	config := Config{
		TableName: DefaultTableName,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Store{
		config:  config,
		db:      db,
		now:     time.Now,
		queries: newQueries(config.TableName),
	}
}

// CreateTableSQL returns the DDL for creating the lock table. A NULL
// expires_at marks an advisory lock without lease.
func CreateTableSQL(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at INTEGER,
	created_at INTEGER NOT NULL
)`, tableName)
}

// Migrate creates the lock table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, CreateTableSQL(s.config.TableName))
	return err
}

// expiry returns the lease end for ttl in unix milliseconds, nil for an
// advisory lock. A positive ttl lasts at least one millisecond.
func expiry(now time.Time, ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	ms := ttl.Milliseconds()
	if ttl%time.Millisecond != 0 {
		ms++
	}
	return now.UnixMilli() + ms
}

// SetNX inserts the record, replacing an expired one.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.now()
	n, err := s.exec(ctx, s.queries.setNX, key, value, expiry(now, ttl), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns the owner of the live record for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, s.queries.get, key, s.now().UnixMilli()).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

// Del removes the record for key.
func (s *Store) Del(ctx context.Context, key string) error {
	_, err := s.exec(ctx, s.queries.del, key)
	return err
}

// CompareAndDelete removes the live record for key if value owns it.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := s.exec(ctx, s.queries.compareDelete, key, value, s.now().UnixMilli())
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompareAndExpire moves the lease of the live record for key if value
// owns it. A zero ttl removes the lease.
func (s *Store) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.now()
	n, err := s.exec(ctx, s.queries.compareExpire, expiry(now, ttl), key, value, now.UnixMilli())
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge deletes expired records and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	return s.exec(ctx, s.queries.purge, s.now().UnixMilli())
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
