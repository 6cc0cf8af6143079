package signing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
)

type fakeKeys struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	given [][]byte
}

func (f *fakeKeys) GetFullPrivateKey(_ context.Context, keyID string, _ string, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, keyID)
	if err := f.fail[keyID]; err != nil {
		return nil, err
	}

	k := []byte{1, 2, 3, 4}
	f.given = append(f.given, k)
	return k, nil
}

type fakeStrategy struct {
	signing.Unsupported
	sign func(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error)
}

func (f *fakeStrategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	return &signing.Wallet{Address: "addr"}, nil
}

func (f *fakeStrategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	return f.sign(ctx, req, keys)
}

func newService(t *testing.T, sign func(context.Context, *signing.Request, *signing.KeyMaterial) (*signing.Envelope, error), keys *fakeKeys, timeout time.Duration) *signing.Service {
	t.Helper()

	registry, err := chain.NewRegistry()
	require.NoError(t, err)

	factories := map[chain.Family]signing.Factory{
		chain.FamilyEVM: func(context.Context, signing.Env) (signing.Strategy, error) {
			return &fakeStrategy{Unsupported: signing.Unsupported{Family: chain.FamilyEVM}, sign: sign}, nil
		},
		chain.FamilySolana: func(context.Context, signing.Env) (signing.Strategy, error) {
			return nil, signing.Configuration("missing rpc")
		},
	}

	dispatcher := signing.NewDispatcher(factories, nil, nil, signing.Options{})
	return signing.NewService(registry, dispatcher, keys, nil, timeout)
}

func transferRequest(networkID string) *signing.Request {
	return &signing.Request{
		KeyID:         "key-1",
		NetworkID:     networkID,
		TransactionID: "tx-1",
		Asset:         signing.Asset{Kind: signing.AssetCoin},
		To:            "0x000000000000000000000000000000000000dEaD",
		Amount:        decimal.RequireFromString("1.5"),
	}
}

func TestServiceSignsAndPreservesTransactionID(t *testing.T) {
	keys := &fakeKeys{}
	svc := newService(t, func(_ context.Context, _ *signing.Request, k *signing.KeyMaterial) (*signing.Envelope, error) {
		assert.False(t, k.Sponsored())
		return signing.NewRPCEnvelope("", "http://rpc", "0xdead"), nil
	}, keys, time.Second)

	env := svc.SignTransaction(t.Context(), transferRequest("ETHEREUM"))

	require.True(t, env.Succeeded())
	assert.Equal(t, "tx-1", env.TransactionID)
	assert.Equal(t, "http://rpc", env.RPCURL)
	assert.Nil(t, env.Error)

	require.Len(t, keys.given, 1)
	assert.Equal(t, []byte{0, 0, 0, 0}, keys.given[0], "key material must be wiped after signing")
}

func TestServiceLoadsFeePayerKey(t *testing.T) {
	keys := &fakeKeys{}
	svc := newService(t, func(_ context.Context, _ *signing.Request, k *signing.KeyMaterial) (*signing.Envelope, error) {
		assert.True(t, k.Sponsored())
		return signing.NewRPCEnvelope("", "http://rpc", "0xdead"), nil
	}, keys, time.Second)

	req := transferRequest("ETHEREUM")
	req.Signers = []signing.Signer{{Role: signing.RoleFeePayer, KeyID: "gas-station"}}

	env := svc.SignTransaction(t.Context(), req)
	require.True(t, env.Succeeded())
	assert.Equal(t, []string{"key-1", "gas-station"}, keys.calls)
}

func TestServiceErrorsBecomeEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		req     func() *signing.Request
		keys    *fakeKeys
		sign    func(context.Context, *signing.Request, *signing.KeyMaterial) (*signing.Envelope, error)
		op      func(*signing.Service, context.Context, *signing.Request) *signing.Envelope
		want    signing.Code
		timeout time.Duration
	}{
		{
			name: "unknown network",
			req:  func() *signing.Request { return transferRequest("NOPE") },
			want: signing.CodeUnsupportedNetwork,
		},
		{
			name: "strategy init fails",
			req:  func() *signing.Request { return transferRequest("SOLANA") },
			want: signing.CodeConfiguration,
		},
		{
			name: "no strategy for family",
			req:  func() *signing.Request { return transferRequest("BITCOIN") },
			want: signing.CodeUnsupportedProtocol,
		},
		{
			name: "invalid request",
			req: func() *signing.Request {
				r := transferRequest("ETHEREUM")
				r.Amount = decimal.Zero
				return r
			},
			want: signing.CodeInvalidRequest,
		},
		{
			name: "bad key share",
			req:  func() *signing.Request { return transferRequest("ETHEREUM") },
			keys: &fakeKeys{fail: map[string]error{"key-1": signing.NewError(signing.CodeInvalidKeyShare, "bad share")}},
			want: signing.CodeInvalidKeyShare,
		},
		{
			name: "opaque key failure",
			req:  func() *signing.Request { return transferRequest("ETHEREUM") },
			keys: &fakeKeys{fail: map[string]error{"key-1": errors.New("vault down")}},
			want: signing.CodeKeyReconstruction,
		},
		{
			name: "operation not supported",
			req: func() *signing.Request {
				r := transferRequest("ETHEREUM")
				r.Calls = []signing.Call{{To: "0x1"}}
				return r
			},
			op:   (*signing.Service).SignContractTransaction,
			want: signing.CodeNotSupported,
		},
		{
			name: "strategy panics",
			req:  func() *signing.Request { return transferRequest("ETHEREUM") },
			sign: func(context.Context, *signing.Request, *signing.KeyMaterial) (*signing.Envelope, error) {
				panic("boom")
			},
			want: signing.CodeInternal,
		},
		{
			name: "strategy returns nothing",
			req:  func() *signing.Request { return transferRequest("ETHEREUM") },
			sign: func(context.Context, *signing.Request, *signing.KeyMaterial) (*signing.Envelope, error) {
				return nil, nil
			},
			want: signing.CodeInternal,
		},
		{
			name: "deadline exceeded",
			req:  func() *signing.Request { return transferRequest("ETHEREUM") },
			sign: func(ctx context.Context, _ *signing.Request, _ *signing.KeyMaterial) (*signing.Envelope, error) {
				<-ctx.Done()
				return nil, signing.Transient(ctx.Err(), "rpc call")
			},
			timeout: 10 * time.Millisecond,
			want:    signing.CodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := tt.keys
			if keys == nil {
				keys = &fakeKeys{}
			}
			sign := tt.sign
			if sign == nil {
				sign = func(context.Context, *signing.Request, *signing.KeyMaterial) (*signing.Envelope, error) {
					return signing.NewRPCEnvelope("", "http://rpc", "0xdead"), nil
				}
			}
			op := tt.op
			if op == nil {
				op = (*signing.Service).SignTransaction
			}
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}

			svc := newService(t, sign, keys, timeout)
			req := tt.req()
			env := op(svc, t.Context(), req)

			require.NotNil(t, env)
			require.NoError(t, env.Validate())
			require.NotNil(t, env.Error)
			assert.Nil(t, env.SignedTransaction)
			assert.Equal(t, tt.want, env.Error.Code)
			assert.Equal(t, req.TransactionID, env.TransactionID)
		})
	}
}

func TestHandleRoutesByOperation(t *testing.T) {
	svc := newService(t, func(context.Context, *signing.Request, *signing.KeyMaterial) (*signing.Envelope, error) {
		return signing.NewRPCEnvelope("", "http://rpc", "0xdead"), nil
	}, &fakeKeys{}, time.Second)

	req := transferRequest("ETHEREUM")
	req.Operation = signing.OperationSignTransaction
	assert.True(t, svc.Handle(t.Context(), req).Succeeded())

	req.Operation = "signEverything"
	env := svc.Handle(t.Context(), req)
	require.NotNil(t, env.Error)
	assert.Equal(t, signing.CodeInvalidRequest, env.Error.Code)

	env = svc.Handle(t.Context(), nil)
	require.NotNil(t, env.Error)
}

func TestDispatcherBuildsFreshStrategyPerRequest(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	factories := map[chain.Family]signing.Factory{
		chain.FamilyEVM: func(_ context.Context, env signing.Env) (signing.Strategy, error) {
			mu.Lock()
			seen[env.Chain.NetworkID]++
			mu.Unlock()
			return &fakeStrategy{}, nil
		},
	}
	d := signing.NewDispatcher(factories, nil, nil, signing.Options{})

	registry, err := chain.NewRegistry()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{"ETHEREUM", "BSC", "ETHEREUM", "BSC_TESTNET"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			desc, err := registry.Resolve(id)
			assert.NoError(t, err)
			a, err := d.GetStrategy(t.Context(), signing.Asset{Kind: signing.AssetCoin}, desc)
			assert.NoError(t, err)
			b, err := d.GetStrategy(t.Context(), signing.Asset{Kind: signing.AssetCoin}, desc)
			assert.NoError(t, err)
			assert.NotSame(t, a, b)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"ETHEREUM": 4, "BSC": 2, "BSC_TESTNET": 2}, seen)
	assert.Equal(t, []chain.Family{chain.FamilyEVM}, d.Families())
}
