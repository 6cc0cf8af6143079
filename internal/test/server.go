package test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/router"
	"github/chapool/tx-signer/internal/config"
)

// APIKey is accepted by servers created through WithTestServer.
const APIKey = "test-management-key"

// Mnemonic is the well-known BIP-39 test vector the test servers are unlocked with.
const Mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// WithTestServer hands closure a fully wired, unlocked server backed by an isolated database.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	WithTestServerConfigurable(t, NewTestConfig(), closure)
}

// WithTestServerConfigurable is WithTestServer with an explicit config.
func WithTestServerConfigurable(t *testing.T, cfg config.Server, closure func(s *api.Server)) {
	t.Helper()

	WithTestDatabase(t, func(db *sql.DB) {
		t.Helper()

		closure(NewTestServer(t, cfg, db))
	})
}

// NewTestConfig returns the env config with test credentials applied.
func NewTestConfig() config.Server {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Echo.APIKeys = []string{APIKey}
	cfg.Echo.EnableMetrics = true
	cfg.Transport.Kind = config.TransportNone
	cfg.Signing.RequestTimeout = 10 * time.Second

	return cfg
}

// NewTestServer wires a server around db and unlocks its seed manager.
func NewTestServer(t *testing.T, cfg config.Server, db *sql.DB) *api.Server {
	t.Helper()

	s, err := api.InitNewServerWithDB(cfg, db, t)
	require.NoError(t, err)

	require.NoError(t, s.Seeds.Initialize(Mnemonic, ""))

	require.NoError(t, router.Init(s))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// the database is owned by WithTestDatabase
		s.DB = nil
		_ = s.Shutdown(ctx)
	})

	return s
}
