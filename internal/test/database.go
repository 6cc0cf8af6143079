package test

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	// sqlite stands in for postgres in tests; the queries use syntax both accept.
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/migrations"
)

// WithTestDatabase hands closure a freshly migrated, isolated database.
func WithTestDatabase(t *testing.T, closure func(db *sql.DB)) {
	t.Helper()

	closure(NewTestDatabase(t))
}

// NewTestDatabase creates a file-backed sqlite database in a temp dir and applies all migrations.
// Transactions take the write lock on BEGIN so concurrent writers queue instead of failing.
func NewTestDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL", filepath.Join(t.TempDir(), "signer.db"))

	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(4)

	t.Cleanup(func() {
		_ = db.Close()
	})

	n, err := migrate.Exec(db, "sqlite3", migrations.Source(), migrate.Up)
	require.NoError(t, err)
	require.Positive(t, n)

	return db
}
