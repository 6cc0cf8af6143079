package db_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/test"
	"github/chapool/tx-signer/internal/util/db"
)

func insertVersion(ctx context.Context, exec boil.ContextExecutor, keyID string) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO private_key_versions (private_key_id, version, created_at, updated_at) VALUES ($1, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		keyID,
	)
	return err
}

func countVersions(t *testing.T, sqlDB *sql.DB) int {
	t.Helper()

	var n int
	require.NoError(t, sqlDB.QueryRowContext(t.Context(), `SELECT COUNT(*) FROM private_key_versions`).Scan(&n))

	return n
}

func TestWithTransactionCommits(t *testing.T) {
	test.WithTestDatabase(t, func(sqlDB *sql.DB) {
		ctx := t.Context()

		err := db.WithTransaction(ctx, sqlDB, func(exec boil.ContextExecutor) error {
			return insertVersion(ctx, exec, "a")
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countVersions(t, sqlDB))
	})
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	test.WithTestDatabase(t, func(sqlDB *sql.DB) {
		ctx := t.Context()
		boom := errors.New("boom")

		err := db.WithTransaction(ctx, sqlDB, func(exec boil.ContextExecutor) error {
			require.NoError(t, insertVersion(ctx, exec, "a"))
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Zero(t, countVersions(t, sqlDB))
	})
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	test.WithTestDatabase(t, func(sqlDB *sql.DB) {
		ctx := t.Context()

		assert.PanicsWithValue(t, "boom", func() {
			_ = db.WithTransaction(ctx, sqlDB, func(exec boil.ContextExecutor) error {
				require.NoError(t, insertVersion(ctx, exec, "a"))
				panic("boom")
			})
		})
		assert.Zero(t, countVersions(t, sqlDB))
	})
}
