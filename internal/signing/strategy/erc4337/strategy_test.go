package erc4337

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
)

var (
	testAccount = common.HexToAddress("0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa")
	testTarget  = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	testContracts = Contracts{
		NexusSupported:      true,
		EntryPointV6:        common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
		EntryPointV7:        common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"),
		V2Factory:           common.HexToAddress("0x000000a56Aaca3e9a4C479ea6b6CD0DbcB6634F5"),
		V2ECDSAModule:       common.HexToAddress("0x0000001c5b32F37F5beA87BDD5374eB2aC54eA8e"),
		NexusImplementation: common.HexToAddress("0x000000004F43C49e93C970E84001853a70923B03"),
		NexusBootstrap:      common.HexToAddress("0x000000F5b753Fdd20C5CA2D7c1210b3Ab1EA5903"),
		NexusK1Validator:    common.HexToAddress("0x0000002D6DB27c52E3C11c1Cf24072004AC75cBa"),
	}

	polygonAmoy = chain.Descriptor{
		NetworkID:      "POLYGON_AMOY",
		Family:         chain.FamilyERC4337,
		ChainID:        80002,
		NativeDecimals: 18,
	}
)

type fakeChain struct {
	deployed bool
	nexus    bool
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(80002), nil }
func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }
func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(30), nil }
func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(14)}, nil
}
func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case *msg.To == testContracts.V2Factory:
		return abi.Arguments{{Type: addressType}}.Pack(testAccount)
	case *msg.To == testAccount && bytes.Equal(msg.Data, accountABI.Methods["accountId"].ID):
		if !f.nexus {
			return nil, signing.NewError(signing.CodeInvalidRequest, "execution reverted")
		}
		return abi.Arguments{{Type: mustType("string", nil)}}.Pack("biconomy.nexus.1.0.0")
	default:
		return nil, errors.New("unexpected call")
	}
}

func (f *fakeChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if account == testAccount && f.deployed {
		return []byte{0x60, 0x80}, nil
	}

	return nil, nil
}

type fakeBundler struct {
	mu       sync.Mutex
	failures int
	calls    int
	seen     []common.Address
}

func (b *fakeBundler) EstimateUserOperationGas(_ context.Context, _ *UserOperation, entryPoint common.Address) (*GasEstimate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	b.seen = append(b.seen, entryPoint)
	if b.calls <= b.failures {
		return nil, signing.Transient(errors.New("bundler unavailable"), "eth_estimateUserOperationGas")
	}

	return &GasEstimate{
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(150000)),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(80000)),
	}, nil
}

type fakeNonces struct {
	mu   sync.Mutex
	next uint64
}

func (n *fakeNonces) GetNonce(context.Context, string, string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	return n.next, nil
}

type fakeVersions map[string]int

func (v fakeVersions) GetVersion(_ context.Context, keyID string) (int, bool, error) {
	version, ok := v[keyID]
	return version, ok, nil
}

const (
	v2BundlerURL = "https://bundler.example/api/v2/80002/key"
	v3BundlerURL = "https://bundler.example/api/v3/80002/key"
)

func newTestStrategy(t *testing.T, fc *fakeChain, bundler *fakeBundler, versions fakeVersions, contracts Contracts) *Strategy {
	t.Helper()

	routes := map[AccountType]Route{
		AccountV2: {Version: EntryPointV06, EntryPoint: contracts.EntryPointV6, BundlerURL: v2BundlerURL, Bundler: bundler},
	}
	if contracts.NexusSupported {
		routes[AccountNexus] = Route{Version: EntryPointV07, EntryPoint: contracts.EntryPointV7, BundlerURL: v3BundlerURL, Bundler: bundler}
	}

	return New(polygonAmoy, signing.Asset{Kind: signing.AssetCoin}, contracts, fc, routes, &fakeNonces{}, versions, 5).
		WithRetryDelay(time.Millisecond)
}

func transferRequest() *signing.Request {
	return &signing.Request{
		TransactionID: "tx-1",
		KeyID:         "key-1",
		NetworkID:     "POLYGON_AMOY",
		To:            testTarget.Hex(),
		Amount:        decimal.RequireFromString("0.01"),
	}
}

func testKeys(t *testing.T) (*signing.KeyMaterial, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &signing.KeyMaterial{Sender: crypto.FromECDSA(key)}, crypto.PubkeyToAddress(key.PublicKey)
}

func decodeV2Batch(t *testing.T, callData []byte) ([]common.Address, [][]byte) {
	t.Helper()

	method := accountABI.Methods["executeBatch"]
	require.Equal(t, method.ID, callData[:4])

	values, err := method.Inputs.Unpack(callData[4:])
	require.NoError(t, err)

	dest, ok := values[0].([]common.Address)
	require.True(t, ok)
	funcs, ok := values[2].([][]byte)
	require.True(t, ok)

	return dest, funcs
}

func TestUndeployedAccountSignsV2WithInitCode(t *testing.T) {
	bundler := &fakeBundler{}
	s := newTestStrategy(t, &fakeChain{}, bundler, fakeVersions{}, testContracts)
	keys, owner := testKeys(t)

	env, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	assert.Equal(t, v2BundlerURL, env.BundlerURL)
	assert.Equal(t, testContracts.EntryPointV6.Hex(), env.EntryPointAddress)

	op, ok := env.SignedTransaction.(*UserOperation)
	require.True(t, ok)
	assert.Equal(t, EntryPointV06, op.Version)
	assert.Equal(t, testAccount, op.Sender)
	require.NotNil(t, op.Factory)
	assert.Equal(t, testContracts.V2Factory, *op.Factory)
	assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 64), op.Nonce)
	assert.Equal(t, big.NewInt(30), op.MaxFeePerGas)

	dest, funcs := decodeV2Batch(t, op.CallData)
	require.Len(t, dest, 1)
	assert.Equal(t, testTarget, dest[0])
	assert.Empty(t, funcs[0])

	decoded, err := abi.Arguments{{Type: bytesType}, {Type: addressType}}.Unpack(op.Signature)
	require.NoError(t, err)
	assert.Equal(t, testContracts.V2ECDSAModule, decoded[1])

	sig := append([]byte{}, decoded[0].([]byte)...)
	sig[64] -= 27
	hash, err := op.Hash(testContracts.EntryPointV6, big.NewInt(80002))
	require.NoError(t, err)
	pub, err := crypto.SigToPub(personalHash(hash.Bytes()), sig)
	require.NoError(t, err)
	assert.Equal(t, owner, crypto.PubkeyToAddress(*pub))
}

func TestDeployedV2AccountMigratesBeforeUserCalls(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{deployed: true}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, _ := testKeys(t)

	env, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)

	assert.Equal(t, v2BundlerURL, env.BundlerURL)
	assert.Equal(t, testContracts.EntryPointV6.Hex(), env.EntryPointAddress)

	op := env.SignedTransaction.(*UserOperation)
	assert.Nil(t, op.Factory)

	dest, funcs := decodeV2Batch(t, op.CallData)
	require.Len(t, dest, 3)
	assert.Equal(t, []common.Address{testAccount, testAccount, testTarget}, dest)
	assert.Equal(t, accountABI.Methods["updateImplementation"].ID, funcs[0][:4])
	assert.Equal(t, accountABI.Methods["initializeAccount"].ID, funcs[1][:4])

	impl, err := accountABI.Methods["updateImplementation"].Inputs.Unpack(funcs[0][4:])
	require.NoError(t, err)
	assert.Equal(t, testContracts.NexusImplementation, impl[0])
}

func TestNexusAccountUsesV7Route(t *testing.T) {
	for name, tc := range map[string]struct {
		chain    *fakeChain
		versions fakeVersions
	}{
		"active on chain":  {chain: &fakeChain{deployed: true, nexus: true}, versions: fakeVersions{}},
		"persisted record": {chain: &fakeChain{}, versions: fakeVersions{"key-1": 1}},
	} {
		t.Run(name, func(t *testing.T) {
			bundler := &fakeBundler{}
			s := newTestStrategy(t, tc.chain, bundler, tc.versions, testContracts)
			keys, _ := testKeys(t)

			env, err := s.SignTransaction(t.Context(), transferRequest(), keys)
			require.NoError(t, err)

			assert.Equal(t, v3BundlerURL, env.BundlerURL)
			assert.Equal(t, testContracts.EntryPointV7.Hex(), env.EntryPointAddress)
			assert.Equal(t, []common.Address{testContracts.EntryPointV7}, bundler.seen)

			op := env.SignedTransaction.(*UserOperation)
			assert.Equal(t, EntryPointV07, op.Version)
			assert.Equal(t, accountABI.Methods["execute"].ID, op.CallData[:4])
			assert.Len(t, op.Signature, 65)

			key := new(big.Int).Rsh(op.Nonce, 64).FillBytes(make([]byte, 24))
			assert.Equal(t, []byte{0, 0, 1, 0}, key[:4])
			assert.Equal(t, testContracts.NexusK1Validator.Bytes(), key[4:])
		})
	}
}

func TestNexusUnsupportedAlwaysV2(t *testing.T) {
	contracts := testContracts
	contracts.NexusSupported = false

	s := newTestStrategy(t, &fakeChain{deployed: true, nexus: true}, &fakeBundler{}, fakeVersions{"key-1": 1}, contracts)
	keys, _ := testKeys(t)

	env, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)
	assert.Equal(t, v2BundlerURL, env.BundlerURL)
	assert.Equal(t, contracts.EntryPointV6.Hex(), env.EntryPointAddress)

	op := env.SignedTransaction.(*UserOperation)
	assert.Nil(t, op.Factory)
	dest, _ := decodeV2Batch(t, op.CallData)
	assert.Len(t, dest, 1)
}

func TestBuildRetriesTransientFailures(t *testing.T) {
	bundler := &fakeBundler{failures: 3}
	s := newTestStrategy(t, &fakeChain{}, bundler, fakeVersions{}, testContracts)
	keys, _ := testKeys(t)

	env, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)
	assert.True(t, env.Succeeded())
	assert.Equal(t, 4, bundler.calls)
}

func TestBuildFailsSoftAfterAttempts(t *testing.T) {
	bundler := &fakeBundler{failures: 100}
	s := newTestStrategy(t, &fakeChain{}, bundler, fakeVersions{}, testContracts)
	keys, _ := testKeys(t)

	env, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.False(t, env.Succeeded())
	assert.Equal(t, "tx-1", env.TransactionID)
	assert.Equal(t, signing.CodeTransientRPC, env.Error.Code)
	assert.Equal(t, 5, bundler.calls)
}

func TestConsecutiveRequestsUseDistinctNonceKeys(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, _ := testKeys(t)

	first, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)
	second, err := s.SignTransaction(t.Context(), transferRequest(), keys)
	require.NoError(t, err)

	assert.NotEqual(t, first.SignedTransaction.(*UserOperation).Nonce, second.SignedTransaction.(*UserOperation).Nonce)
}
