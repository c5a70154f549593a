package pgx

import "fmt"

// CreateTableSQL returns the DDL for creating the lock table. A NULL
// expires_at marks an advisory lock without lease.
func CreateTableSQL(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%s_expires_at
	ON %s (expires_at)
	WHERE expires_at IS NOT NULL;`, tableName, tableName, tableName)
}
