package erc4337

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing/strategy/evm"
)

const accountABIJSON = `[
 {"type":"function","name":"getAddressForCounterFactualAccount","stateMutability":"view",
  "inputs":[{"name":"moduleSetupContract","type":"address"},{"name":"moduleSetupData","type":"bytes"},{"name":"index","type":"uint256"}],
  "outputs":[{"name":"_account","type":"address"}]},
 {"type":"function","name":"deployCounterFactualAccount","stateMutability":"nonpayable",
  "inputs":[{"name":"moduleSetupContract","type":"address"},{"name":"moduleSetupData","type":"bytes"},{"name":"index","type":"uint256"}],
  "outputs":[{"name":"proxy","type":"address"}]},
 {"type":"function","name":"initForSmartAccount","stateMutability":"nonpayable",
  "inputs":[{"name":"eoaOwner","type":"address"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"executeBatch","stateMutability":"nonpayable",
  "inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]},
 {"type":"function","name":"execute","stateMutability":"payable",
  "inputs":[{"name":"mode","type":"bytes32"},{"name":"executionCalldata","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"updateImplementation","stateMutability":"nonpayable",
  "inputs":[{"name":"_implementation","type":"address"}],"outputs":[]},
 {"type":"function","name":"initializeAccount","stateMutability":"payable",
  "inputs":[{"name":"initData","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"initNexusWithSingleValidator","stateMutability":"nonpayable",
  "inputs":[{"name":"validator","type":"address"},{"name":"data","type":"bytes"},{"name":"registry","type":"address"},{"name":"attesters","type":"address[]"},{"name":"threshold","type":"uint8"}],"outputs":[]},
 {"type":"function","name":"accountId","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	accountABI = mustParseABI(accountABIJSON)

	addressType = mustType("address", nil)
	bytesType   = mustType("bytes", nil)
	bytes32Type = mustType("bytes32", nil)
	uint256Type = mustType("uint256", nil)

	executionsType = mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})

	// ERC-7579 mode with call type batch and default exec type.
	batchMode = [32]byte{0x01}
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}

	return parsed
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}

	return typ
}

func pack(method string, args ...any) ([]byte, error) {
	data, err := accountABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", method)
	}

	return data, nil
}

type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// encodeV2Batch encodes calls for a v2 account's executeBatch.
func encodeV2Batch(calls []evm.Call) ([]byte, error) {
	dest := make([]common.Address, 0, len(calls))
	values := make([]*big.Int, 0, len(calls))
	funcs := make([][]byte, 0, len(calls))

	for _, c := range calls {
		dest = append(dest, c.To)
		values = append(values, valueOrZero(c.Value))
		funcs = append(funcs, nonNil(c.Data))
	}

	return pack("executeBatch", dest, values, funcs)
}

// encodeNexusBatch encodes calls for a Nexus account's ERC-7579 execute in batch mode.
func encodeNexusBatch(calls []evm.Call) ([]byte, error) {
	execs := make([]execution, 0, len(calls))
	for _, c := range calls {
		execs = append(execs, execution{Target: c.To, Value: valueOrZero(c.Value), CallData: nonNil(c.Data)})
	}

	executionCalldata, err := abi.Arguments{{Type: executionsType}}.Pack(execs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode executions")
	}

	return pack("execute", batchMode, executionCalldata)
}

// MigrationCalls returns the two calls that upgrade a v2 account to Nexus in place:
// updateImplementation on the account, then initializeAccount with the bootstrap.
func MigrationCalls(account common.Address, owner common.Address, cfg Contracts) ([]evm.Call, error) {
	update, err := pack("updateImplementation", cfg.NexusImplementation)
	if err != nil {
		return nil, err
	}

	bootstrapCall, err := pack("initNexusWithSingleValidator",
		cfg.NexusK1Validator, owner.Bytes(), cfg.NexusRegistry, []common.Address{}, uint8(0))
	if err != nil {
		return nil, err
	}

	initData, err := abi.Arguments{{Type: addressType}, {Type: bytesType}}.Pack(cfg.NexusBootstrap, bootstrapCall)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode nexus init data")
	}

	initialize, err := pack("initializeAccount", initData)
	if err != nil {
		return nil, err
	}

	return []evm.Call{
		{To: account, Value: new(big.Int), Data: update},
		{To: account, Value: new(big.Int), Data: initialize},
	}, nil
}

// wrapV2Signature encodes a signature the way the v2 ECDSA module expects it.
func wrapV2Signature(sig []byte, module common.Address) ([]byte, error) {
	out, err := abi.Arguments{{Type: bytesType}, {Type: addressType}}.Pack(sig, module)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode v2 signature")
	}

	return out, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	return b
}
