package erc4337

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/strategy/evm"
)

var (
	testRouter = common.HexToAddress("0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD")
	testToken  = common.HexToAddress("0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582")

	swapCalldata    = hexutil.MustDecode("0x3593564c00000000000000000000000000000000000000000000000000000000000000aa")
	approveCalldata = hexutil.MustDecode("0x095ea7b3000000000000000000000000000000000022d473030f116ddee9f6b43ac78ba3")
)

const permitTypedData = `{
  "types": {
    "EIP712Domain": [
      {"name": "name", "type": "string"},
      {"name": "chainId", "type": "uint256"},
      {"name": "verifyingContract", "type": "address"}
    ],
    "PermitSingle": [
      {"name": "spender", "type": "address"},
      {"name": "sigDeadline", "type": "uint256"}
    ]
  },
  "primaryType": "PermitSingle",
  "domain": {
    "name": "Permit2",
    "chainId": "80002",
    "verifyingContract": "0x000000000022D473030F116dDEE9F6B43aC78BA3"
  },
  "message": {
    "spender": "0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD",
    "sigDeadline": "1700000000"
  }
}`

func swapRequest() *signing.Request {
	return &signing.Request{
		Operation:     signing.OperationSignSwapTransaction,
		TransactionID: "tx-swap",
		KeyID:         "key-1",
		NetworkID:     "POLYGON_AMOY",
		Swap: &signing.Swap{
			To:        testRouter.Hex(),
			Data:      swapCalldata,
			Permit2:   json.RawMessage(permitTypedData),
			Approvals: []signing.Call{{To: testToken.Hex(), Data: approveCalldata}},
		},
	}
}

func decodeNexusBatch(t *testing.T, callData []byte) []execution {
	t.Helper()

	method := accountABI.Methods["execute"]
	require.Equal(t, method.ID, callData[:4])

	values, err := method.Inputs.Unpack(callData[4:])
	require.NoError(t, err)
	assert.Equal(t, batchMode, values[0])

	inner, ok := values[1].([]byte)
	require.True(t, ok)

	unpacked, err := abi.Arguments{{Type: executionsType}}.Unpack(inner)
	require.NoError(t, err)

	execs, ok := abi.ConvertType(unpacked[0], new([]execution)).(*[]execution)
	require.True(t, ok)

	return *execs
}

// permitSignature splits the Permit2 signature off the swap calldata.
func permitSignature(t *testing.T, spliced []byte) []byte {
	t.Helper()

	prefix, sig, err := evm.SplitPermit2Signature(spliced, len(swapCalldata))
	require.NoError(t, err)
	assert.Equal(t, swapCalldata, prefix)

	return sig
}

func assertSignedBy(t *testing.T, owner common.Address, sig []byte) {
	t.Helper()

	hash, err := evm.HashTypedData(json.RawMessage(permitTypedData))
	require.NoError(t, err)

	require.Len(t, sig, 65)
	recoverable := append([]byte{}, sig...)
	recoverable[64] -= 27

	pub, err := crypto.SigToPub(hash, recoverable)
	require.NoError(t, err)
	assert.Equal(t, owner, crypto.PubkeyToAddress(*pub))
}

func assertNexusPermit(t *testing.T, owner common.Address, sig []byte) {
	t.Helper()

	require.Greater(t, len(sig), common.AddressLength)
	assert.Equal(t, testContracts.NexusK1Validator.Bytes(), sig[:common.AddressLength])
	assertSignedBy(t, owner, sig[common.AddressLength:])
}

func TestV2SwapWrapsPermit2SignatureForECDSAModule(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, owner := testKeys(t)

	env, err := s.SignSwapTransaction(t.Context(), swapRequest(), keys)
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.Equal(t, v2BundlerURL, env.BundlerURL)

	op := env.SignedTransaction.(*UserOperation)
	dest, funcs := decodeV2Batch(t, op.CallData)
	require.Len(t, dest, 2)
	assert.Equal(t, []common.Address{testToken, testRouter}, dest)
	assert.Equal(t, approveCalldata, funcs[0])

	sig := permitSignature(t, funcs[1])
	decoded, err := abi.Arguments{{Type: bytesType}, {Type: addressType}}.Unpack(sig)
	require.NoError(t, err)
	assert.Equal(t, testContracts.V2ECDSAModule, decoded[1])
	assertSignedBy(t, owner, decoded[0].([]byte))
}

func TestNexusSwapPrefixesPermit2SignatureWithValidator(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{deployed: true, nexus: true}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, owner := testKeys(t)

	env, err := s.SignSwapTransaction(t.Context(), swapRequest(), keys)
	require.NoError(t, err)
	assert.Equal(t, v3BundlerURL, env.BundlerURL)

	op := env.SignedTransaction.(*UserOperation)
	execs := decodeNexusBatch(t, op.CallData)
	require.Len(t, execs, 2)
	assert.Equal(t, testToken, execs[0].Target)
	assert.Equal(t, approveCalldata, execs[0].CallData)
	assert.Equal(t, testRouter, execs[1].Target)

	assertNexusPermit(t, owner, permitSignature(t, execs[1].CallData))
}

func TestMigratingSwapPrependsUpgradeAndSignsPermitForNexus(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{deployed: true}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, owner := testKeys(t)

	env, err := s.SignSwapTransaction(t.Context(), swapRequest(), keys)
	require.NoError(t, err)
	assert.Equal(t, v2BundlerURL, env.BundlerURL)

	op := env.SignedTransaction.(*UserOperation)
	dest, funcs := decodeV2Batch(t, op.CallData)
	require.Len(t, dest, 4)
	assert.Equal(t, []common.Address{testAccount, testAccount, testToken, testRouter}, dest)
	assert.Equal(t, accountABI.Methods["updateImplementation"].ID, funcs[0][:4])
	assert.Equal(t, accountABI.Methods["initializeAccount"].ID, funcs[1][:4])
	assert.Equal(t, approveCalldata, funcs[2])

	// the swap runs after the upgrade, so the account validating Permit2 is already Nexus
	assertNexusPermit(t, owner, permitSignature(t, funcs[3]))
}

func TestSwapWithoutPermit2KeepsCalldata(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, _ := testKeys(t)

	req := swapRequest()
	req.Swap.Permit2 = nil

	env, err := s.SignSwapTransaction(t.Context(), req, keys)
	require.NoError(t, err)

	_, funcs := decodeV2Batch(t, env.SignedTransaction.(*UserOperation).CallData)
	require.Len(t, funcs, 2)
	assert.Equal(t, swapCalldata, funcs[1])
}

func TestSwapWithInvalidPermit2IsRejected(t *testing.T) {
	s := newTestStrategy(t, &fakeChain{}, &fakeBundler{}, fakeVersions{}, testContracts)
	keys, _ := testKeys(t)

	req := swapRequest()
	req.Swap.Permit2 = json.RawMessage(`{"types":`)

	_, err := s.SignSwapTransaction(t.Context(), req, keys)
	require.ErrorIs(t, err, signing.ErrInvalidRequest)
}
