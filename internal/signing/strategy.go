package signing

import (
	"context"
	"net/http"

	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util/retry"
)

// Strategy signs transactions for one protocol family. Instances are request-scoped:
// a Factory builds one per request from the request's chain and asset.
type Strategy interface {
	CreateWallet(ctx context.Context) (*Wallet, error)
	SignTransaction(ctx context.Context, req *Request, keys *KeyMaterial) (*Envelope, error)
	SignContractTransaction(ctx context.Context, req *Request, keys *KeyMaterial) (*Envelope, error)
	SignSwapTransaction(ctx context.Context, req *Request, keys *KeyMaterial) (*Envelope, error)
}

// Closer is implemented by strategies holding connections. The service closes them after the request.
type Closer interface {
	Close()
}

// Factory initializes a strategy for env. It fails with a configuration error when
// endpoints or credentials are missing.
type Factory func(ctx context.Context, env Env) (Strategy, error)

// NonceAllocator issues gap-free per key and network sequence numbers.
type NonceAllocator interface {
	GetNonce(ctx context.Context, keyID string, networkID string) (uint64, error)
}

// VersionStore reads the persisted smart account version of a key.
type VersionStore interface {
	GetVersion(ctx context.Context, keyID string) (version int, found bool, err error)
}

// Options are process-wide strategy settings.
type Options struct {
	BundlerAPIKey         string
	PaymasterAPIKey       string
	TronAPIKey            string
	TronFeeLimitSun       int64
	BitcoinDefaultFeeRate int64
	UserOpRetries         int
	RPCRetry              retry.Policy
	HTTPClient            *http.Client

	// ObserveUserOpAttempts receives the number of build attempts of every user operation.
	ObserveUserOpAttempts func(attempts int)
}

// Env is the per-request context handed to a Factory.
type Env struct {
	Chain    chain.Descriptor
	Asset    Asset
	Nonces   NonceAllocator
	Versions VersionStore
	Options  Options
}

// HTTP returns the configured client or http.DefaultClient.
func (e Env) HTTP() *http.Client {
	if e.Options.HTTPClient != nil {
		return e.Options.HTTPClient
	}

	return http.DefaultClient
}

// Unsupported provides NotSupported answers for the optional operations.
// Strategies embed it and override what they implement.
type Unsupported struct {
	Family chain.Family
}

func (u Unsupported) SignContractTransaction(context.Context, *Request, *KeyMaterial) (*Envelope, error) {
	return nil, NotSupported(u.Family, OperationSignContractTransaction)
}

func (u Unsupported) SignSwapTransaction(context.Context, *Request, *KeyMaterial) (*Envelope, error) {
	return nil, NotSupported(u.Family, OperationSignSwapTransaction)
}
