// Package erc4337 signs user operations for custodial smart accounts.
//
// A key owns a v2 account and, once migrated, the same address runs Nexus. Decide picks the
// signing account per request; migration rides along with the user's first call batch.
package erc4337

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/strategy/evm"
	"github/chapool/tx-signer/internal/util"
)

const (
	defaultBuildAttempts = 5
	defaultBuildDelay    = 500 * time.Millisecond
)

// dummySignature has the shape of a real ECDSA signature so gas estimation covers validation.
var dummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// Route is where operations of one account type go. The pairing never mixes.
type Route struct {
	Version    EntryPointVersion
	EntryPoint common.Address
	BundlerURL string
	Bundler    Bundler
	Paymaster  Paymaster
}

type Strategy struct {
	chain     chain.Descriptor
	asset     signing.Asset
	contracts Contracts
	backend   evm.Backend
	accounts  *Accounts
	routes    map[AccountType]Route
	nonces    signing.NonceAllocator
	versions  signing.VersionStore
	attempts  int
	delay     time.Duration

	observeAttempts func(attempts int)
}

var _ signing.Strategy = (*Strategy)(nil)

// Factory resolves contracts, bundler and paymaster endpoints for env.
func Factory(ctx context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	d := env.Chain
	if d.ChainID <= 0 {
		return nil, signing.Configuration("network %s has no chain id", d.NetworkID)
	}
	if d.Bundler == nil {
		return nil, signing.Configuration("network %s has no bundler configured", d.NetworkID)
	}

	contracts, err := ParseContracts(d.SmartAccount)
	if err != nil {
		return nil, err
	}

	client, err := evm.Dial(ctx, d.RPCEndpoints, env.Options.RPCRetry, rpc.WithHTTPClient(env.HTTP()))
	if err != nil {
		return nil, err
	}

	routes := make(map[AccountType]Route, 2)

	v2, err := dialRoute(ctx, env, EntryPointV06, contracts.EntryPointV6, d.Bundler.V2URL, paymasterURL(d, EntryPointV06))
	if err != nil {
		closeIfCloser(client)
		return nil, err
	}
	routes[AccountV2] = v2

	if contracts.NexusSupported {
		v3, err := dialRoute(ctx, env, EntryPointV07, contracts.EntryPointV7, d.Bundler.V3URL, paymasterURL(d, EntryPointV07))
		if err != nil {
			closeIfCloser(client)
			closeIfCloser(v2.Bundler)
			closeIfCloser(v2.Paymaster)
			return nil, err
		}
		routes[AccountNexus] = v3
	}

	s := New(d, env.Asset, contracts, client, routes, env.Nonces, env.Versions, env.Options.UserOpRetries)
	s.observeAttempts = env.Options.ObserveUserOpAttempts

	return s, nil
}

func paymasterURL(d chain.Descriptor, v EntryPointVersion) string {
	if d.Paymaster == nil {
		return ""
	}
	if v == EntryPointV07 {
		return d.Paymaster.V3URL
	}

	return d.Paymaster.V2URL
}

func dialRoute(ctx context.Context, env signing.Env, v EntryPointVersion, entryPoint common.Address, bundlerTemplate string, paymasterTemplate string) (Route, error) {
	bundlerURL, err := ExpandURL(bundlerTemplate, env.Chain.ChainID, env.Options.BundlerAPIKey)
	if err != nil {
		return Route{}, err
	}
	if bundlerURL == "" {
		return Route{}, signing.Configuration("network %s has no bundler URL for entry point v%d", env.Chain.NetworkID, v)
	}

	bundler, err := DialRPC(ctx, bundlerURL, env.HTTP())
	if err != nil {
		return Route{}, err
	}

	route := Route{Version: v, EntryPoint: entryPoint, BundlerURL: bundlerURL, Bundler: bundler}

	pmURL, err := ExpandURL(paymasterTemplate, env.Chain.ChainID, env.Options.PaymasterAPIKey)
	if err != nil {
		return Route{}, err
	}
	if pmURL != "" {
		pm, err := DialRPC(ctx, pmURL, env.HTTP())
		if err != nil {
			return Route{}, err
		}
		route.Paymaster = pm
	}

	return route, nil
}

func New(
	descriptor chain.Descriptor,
	asset signing.Asset,
	contracts Contracts,
	backend evm.Backend,
	routes map[AccountType]Route,
	nonces signing.NonceAllocator,
	versions signing.VersionStore,
	attempts int,
) *Strategy {
	if attempts <= 0 {
		attempts = defaultBuildAttempts
	}

	return &Strategy{
		chain:     descriptor,
		asset:     asset,
		contracts: contracts,
		backend:   backend,
		accounts:  NewAccounts(backend, contracts),
		routes:    routes,
		nonces:    nonces,
		versions:  versions,
		attempts:  attempts,
		delay:     defaultBuildDelay,
	}
}

// Close releases the node, bundler and paymaster connections.
func (s *Strategy) Close() {
	closeIfCloser(s.backend)
	for _, r := range s.routes {
		closeIfCloser(r.Bundler)
		closeIfCloser(r.Paymaster)
	}
}

func closeIfCloser(v any) {
	if c, ok := v.(signing.Closer); ok {
		c.Close()
	}
}

// WithRetryDelay sets the first delay between build attempts. It doubles per attempt.
func (s *Strategy) WithRetryDelay(d time.Duration) *Strategy {
	s.delay = d
	return s
}

// CreateWallet returns the owner key, its counterfactual smart account and the owner EOA.
func (s *Strategy) CreateWallet(ctx context.Context) (*signing.Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	raw := crypto.FromECDSA(key)
	defer util.Wipe(raw)

	owner := crypto.PubkeyToAddress(key.PublicKey)
	account, err := s.accounts.V2Address(ctx, owner)
	if err != nil {
		return nil, err
	}

	return &signing.Wallet{
		PrivateKey: hexutil.Encode(raw),
		Address:    account.Hex(),
		EOAAddress: owner.Hex(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}

	call, err := evm.TransferCall(req, s.asset, amount)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, req, keys, []evm.Call{call}, nil)
}

func (s *Strategy) SignContractTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	calls, err := evm.DecodeCalls(req.Calls)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, req, keys, calls, nil)
}

// SignSwapTransaction batches approvals and the swap in one user operation. A Permit2 signature
// is produced by the signing account and spliced onto the swap calldata.
func (s *Strategy) SignSwapTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	calls, err := evm.DecodeCalls(req.Swap.Calls())
	if err != nil {
		return nil, err
	}

	var permit func(key *ecdsa.PrivateKey, account AccountType) error
	if len(req.Swap.Permit2) > 0 {
		permit = func(key *ecdsa.PrivateKey, account AccountType) error {
			hash, err := evm.HashTypedData(req.Swap.Permit2)
			if err != nil {
				return err
			}

			sig, err := s.signMessageHash(key, account, hash)
			if err != nil {
				return err
			}

			last := len(calls) - 1
			calls[last].Data = evm.SplicePermit2Signature(calls[last].Data, sig)

			return nil
		}
	}

	return s.execute(ctx, req, keys, calls, permit)
}

// plan is everything fixed before the build loop starts.
type plan struct {
	key      *ecdsa.PrivateKey
	account  common.Address
	decision Decision
	route    Route
	nonce    *big.Int
	callData []byte
	factory  *common.Address
	initCode []byte
}

func (s *Strategy) execute(
	ctx context.Context,
	req *signing.Request,
	keys *signing.KeyMaterial,
	calls []evm.Call,
	permit func(*ecdsa.PrivateKey, AccountType) error,
) (*signing.Envelope, error) {
	log := util.LogFromContext(ctx)

	key, err := crypto.ToECDSA(keys.Sender)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeKeyReconstruction, "invalid sender key")
	}

	p, err := s.prepare(ctx, req, key, calls, permit)
	if err != nil {
		return nil, err
	}

	op, err := s.buildWithRetry(ctx, p)
	if err != nil {
		if signing.IsRetryable(err) {
			log.Error().Err(err).Int("attempts", s.attempts).Msg("Giving up on user operation")
			return signing.NewErrorEnvelope(req.TransactionID, err), nil
		}

		return nil, err
	}

	log.Info().
		Str("account", p.account.Hex()).
		Str("account_type", p.decision.Account.String()).
		Bool("migrating", p.decision.ShouldMigrate).
		Msg("Signed user operation")

	return signing.NewBundlerEnvelope(req.TransactionID, p.route.BundlerURL, p.route.EntryPoint.Hex(), op), nil
}

func (s *Strategy) prepare(
	ctx context.Context,
	req *signing.Request,
	key *ecdsa.PrivateKey,
	calls []evm.Call,
	permit func(*ecdsa.PrivateKey, AccountType) error,
) (*plan, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)

	account, err := s.accounts.V2Address(ctx, owner)
	if err != nil {
		return nil, err
	}

	obs, err := s.accounts.Observe(ctx, req.KeyID, account, s.versions)
	if err != nil {
		return nil, err
	}
	decision := Decide(obs)

	route, ok := s.routes[decision.Account]
	if !ok {
		return nil, signing.Configuration("no bundler route for %s accounts on %s", decision.Account, s.chain.NetworkID)
	}

	if permit != nil {
		// a migrating batch runs the swap after the upgrade, so Permit2 validates against Nexus
		signer := decision.Account
		if decision.ShouldMigrate {
			signer = AccountNexus
		}
		if err := permit(key, signer); err != nil {
			return nil, err
		}
	}

	batch, err := s.batch(account, owner, decision, calls)
	if err != nil {
		return nil, err
	}

	allocated, err := s.nonces.GetNonce(ctx, req.KeyID, s.chain.NetworkID)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInternal, "failed to allocate nonce")
	}

	p := &plan{
		key:      key,
		account:  account,
		decision: decision,
		route:    route,
		nonce:    s.nonceFor(decision.Account, allocated),
		callData: batch,
	}

	if decision.Account == AccountV2 {
		// Observe skips the code lookup on networks without Nexus.
		deployed := obs.V2Deployed
		if !obs.NexusSupported {
			if deployed, err = s.accounts.IsDeployed(ctx, account); err != nil {
				return nil, err
			}
		}
		if !deployed {
			factory, initCode, err := s.accounts.InitCode(owner)
			if err != nil {
				return nil, err
			}
			p.factory = &factory
			p.initCode = initCode
		}
	}

	return p, nil
}

// batch encodes calls for the chosen account, prefixed with the migration when required.
func (s *Strategy) batch(account common.Address, owner common.Address, d Decision, calls []evm.Call) ([]byte, error) {
	all := calls
	if d.ShouldMigrate {
		migration, err := MigrationCalls(account, owner, s.contracts)
		if err != nil {
			return nil, err
		}
		all = append(migration, calls...)
	}

	if d.Account == AccountNexus {
		return encodeNexusBatch(all)
	}

	return encodeV2Batch(all)
}

// nonceFor turns an allocated sequence number into a 4337 nonce with sequence 0 under a fresh key.
// v2 uses the number as the whole 192 bit key. Nexus keys are
// customKey(3 bytes) | mode(1 byte) | validator(20 bytes), so only the low 24 bits are used.
func (s *Strategy) nonceFor(account AccountType, allocated uint64) *big.Int {
	if account == AccountV2 {
		return new(big.Int).Lsh(new(big.Int).SetUint64(allocated), 64)
	}

	var key [24]byte
	key[0] = byte(allocated >> 16)
	key[1] = byte(allocated >> 8)
	key[2] = byte(allocated)
	copy(key[4:], s.contracts.NexusK1Validator.Bytes())

	return new(big.Int).Lsh(new(big.Int).SetBytes(key[:]), 64)
}

// buildWithRetry runs build at most s.attempts times. Only transient failures are retried.
func (s *Strategy) buildWithRetry(ctx context.Context, p *plan) (*UserOperation, error) {
	log := util.LogFromContext(ctx)
	delay := s.delay

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		op, err := s.build(ctx, p)
		if err == nil {
			s.observe(attempt)
			return op, nil
		}
		if !signing.IsRetryable(err) {
			s.observe(attempt)
			return nil, err
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("Building user operation failed")

		if attempt == s.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, signing.WrapError(ctx.Err(), signing.CodeTimeout, "user operation build interrupted")
		case <-time.After(delay):
		}
		delay *= 2
	}

	s.observe(s.attempts)

	return nil, signing.Transient(lastErr, "user operation build attempts exhausted")
}

func (s *Strategy) observe(attempts int) {
	if s.observeAttempts != nil {
		s.observeAttempts(attempts)
	}
}

func (s *Strategy) build(ctx context.Context, p *plan) (*UserOperation, error) {
	fees, err := evm.SuggestFees(ctx, s.backend)
	if err != nil {
		return nil, err
	}

	op := &UserOperation{
		Version:  p.route.Version,
		Sender:   p.account,
		Nonce:    p.nonce,
		CallData: p.callData,
	}
	if p.factory != nil {
		f := *p.factory
		op.Factory = &f
		op.FactoryData = p.initCode
	}
	if fees.Legacy() {
		op.MaxFeePerGas = fees.GasPrice
		op.MaxPriorityFeePerGas = fees.GasPrice
	} else {
		op.MaxFeePerGas = fees.FeeCap
		op.MaxPriorityFeePerGas = fees.TipCap
	}

	op.Signature, err = s.wrapSignature(p.decision.Account, dummySignature)
	if err != nil {
		return nil, err
	}

	est, err := p.route.Bundler.EstimateUserOperationGas(ctx, op, p.route.EntryPoint)
	if err != nil {
		return nil, err
	}
	applyEstimate(op, est)

	if p.route.Paymaster != nil {
		sp, err := p.route.Paymaster.SponsorUserOperation(ctx, op, p.route.EntryPoint)
		if err != nil {
			return nil, err
		}
		if err := applySponsorship(op, sp); err != nil {
			return nil, err
		}
	}

	hash, err := op.Hash(p.route.EntryPoint, big.NewInt(s.chain.ChainID))
	if err != nil {
		return nil, err
	}

	sig, err := evm.SignHash(p.key, personalHash(hash.Bytes()))
	if err != nil {
		return nil, err
	}

	op.Signature, err = s.wrapSignature(p.decision.Account, sig)
	if err != nil {
		return nil, err
	}

	return op, nil
}

func (s *Strategy) wrapSignature(account AccountType, sig []byte) ([]byte, error) {
	if account == AccountV2 {
		return wrapV2Signature(sig, s.contracts.V2ECDSAModule)
	}

	return append([]byte{}, sig...), nil
}

// signMessageHash produces an ERC-1271 signature of hash for the account type.
// v2 wraps it for the ECDSA module, Nexus prefixes the validator address.
func (s *Strategy) signMessageHash(key *ecdsa.PrivateKey, account AccountType, hash []byte) ([]byte, error) {
	sig, err := evm.SignHash(key, hash)
	if err != nil {
		return nil, err
	}

	if account == AccountV2 {
		return wrapV2Signature(sig, s.contracts.V2ECDSAModule)
	}

	return append(s.contracts.NexusK1Validator.Bytes(), sig...), nil
}
