package pgx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enverbisevac/lockmgr/lock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ lock.Store = (*Store)(nil)

// Store implements lock.Store on a PostgreSQL table. Each operation is a
// single statement, so the row lock PostgreSQL takes for it makes the
// compare and act atomic. Expiry is evaluated against the database clock.
type Store struct {
	config Config
	pool   *pgxpool.Pool
	db     *sql.DB

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
	const live = "(expires_at IS NULL OR expires_at > now())"
	const expiry = "CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END"

	return queries{
		setNX: fmt.Sprintf(`INSERT INTO %[1]s AS t (key, owner, expires_at, created_at)
VALUES ($1, $2, %[2]s, now())
ON CONFLICT (key) DO UPDATE
	SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	WHERE t.expires_at IS NOT NULL AND t.expires_at <= now()
RETURNING key`, table, expiry),
		get:           fmt.Sprintf("SELECT owner FROM %s WHERE key = $1 AND %s", table, live),
		del:           fmt.Sprintf("DELETE FROM %s WHERE key = $1", table),
		compareDelete: fmt.Sprintf("DELETE FROM %s WHERE key = $1 AND owner = $2 AND %s", table, live),
		compareExpire: fmt.Sprintf("UPDATE %s SET expires_at = %s WHERE key = $1 AND owner = $2 AND %s", table, expiry, live),
		purge:         fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()", table),
	}
}

// New creates a new lock store using pgxpool.
func New(pool *pgxpool.Pool, options ...Option) *Store {
	s := newStore(options...)
	s.pool = pool
	return s
}

// NewStdLib creates a new lock store using database/sql, for example a
// handle from stdlib.OpenDBFromPool.
func NewStdLib(db *sql.DB, options ...Option) *Store {
	s := newStore(options...)
	s.db = db
	return s
}

func newStore(options ...Option) *Store {
	config := Config{
		TableName: DefaultTableName,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Store{
		config:  config,
		queries: newQueries(config.TableName),
	}
}

// Migrate creates the lock table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.exec(ctx, CreateTableSQL(s.config.TableName))
	return err
}

// SetNX inserts the record, replacing an expired one.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var got string
	err := s.queryRow(ctx, s.queries.setNX, []any{key, value, millis(ttl)}, &got)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the owner of the live record for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var owner string
	err := s.queryRow(ctx, s.queries.get, []any{key}, &owner)
	if isNoRows(err) {
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
	n, err := s.exec(ctx, s.queries.compareDelete, key, value)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompareAndExpire moves the lease of the live record for key if value
// owns it. A zero ttl removes the lease.
func (s *Store) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := s.exec(ctx, s.queries.compareExpire, key, value, millis(ttl))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge deletes expired records and returns how many were removed. Expired
// records never block acquisition, purging only reclaims space.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	return s.exec(ctx, s.queries.purge)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if s.pool != nil {
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	if s.pool != nil {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	}
	return s.db.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
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
