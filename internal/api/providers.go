package api

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/keymaterial"
	"github/chapool/tx-signer/internal/keymaterial/keystore"
	"github/chapool/tx-signer/internal/keymaterial/seed"
	"github/chapool/tx-signer/internal/metrics"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/nonce"
	"github/chapool/tx-signer/internal/signing/smartaccount"
	"github/chapool/tx-signer/internal/signing/strategy"
	"github/chapool/tx-signer/internal/util/retry"
)

// PROVIDERS - define here only providers that for various reasons (e.g. cyclic dependency) can't live in their corresponding packages
// or for wrapping providers that only accept sub-configs to prevent the requirement for defining providers for sub-configs.
// https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

// NoTest is used by the non-test injector, which has no *testing.T to hand down.
func NoTest() []*testing.T {
	return nil
}

func NewDB(cfg config.Server) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return db, nil
}

func NewMetrics(cfg config.Server, db *sql.DB) (*metrics.Service, error) {
	m, err := metrics.New()
	if err != nil {
		return nil, err
	}

	if err := m.RegisterDB(db, cfg.Database.Database); err != nil {
		return nil, err
	}

	return m, nil
}

// NewChainRegistry loads the embedded catalog and applies the optional override file.
func NewChainRegistry(cfg config.Server) (*chain.Registry, error) {
	r, err := chain.NewRegistry()
	if err != nil {
		return nil, err
	}

	if cfg.Chains.OverrideFile == "" {
		return r, nil
	}

	log.Info().Str("file", cfg.Chains.OverrideFile).Msg("Applying chain catalog overrides")

	return r.WithOverrides(cfg.Chains.OverrideFile)
}

func NewNonceAllocator(db *sql.DB, m *metrics.Service) *nonce.Allocator {
	return nonce.NewAllocator(db, nonce.WithObserver(m.ObserveNonce))
}

// NewKeystore uses cheap KDF parameters when built for a test.
func NewKeystore(db *sql.DB, t []*testing.T) *keystore.Store {
	if len(t) > 0 {
		return keystore.NewStore(db, keystore.WithScryptParams(keystore.LightScryptParams()))
	}

	return keystore.NewStore(db)
}

func NewSigningOptions(cfg config.Server, m *metrics.Service) signing.Options {
	return signing.Options{
		BundlerAPIKey:         cfg.Signing.BundlerAPIKey,
		PaymasterAPIKey:       cfg.Signing.PaymasterAPIKey,
		TronAPIKey:            cfg.Signing.TronAPIKey,
		TronFeeLimitSun:       cfg.Signing.TronFeeLimitSun,
		BitcoinDefaultFeeRate: cfg.Signing.BitcoinDefaultFeeRate,
		UserOpRetries:         cfg.Signing.UserOpRetries,
		RPCRetry: retry.Policy{
			Attempts:  cfg.Signing.RPCRetries,
			BaseDelay: cfg.Signing.RPCRetryBaseDelay,
		},
		ObserveUserOpAttempts: m.ObserveUserOpAttempts,
	}
}

func NewDispatcher(nonces *nonce.Allocator, versions *smartaccount.Store, options signing.Options) *signing.Dispatcher {
	return signing.NewDispatcher(strategy.Factories(), nonces, versions, options)
}

func NewSigningService(cfg config.Server, chains *chain.Registry, dispatcher *signing.Dispatcher, seeds seed.Manager, m *metrics.Service) *signing.Service {
	return signing.NewService(chains, dispatcher, keymaterial.NewSeedProvider(seeds), m, cfg.Signing.RequestTimeout)
}
