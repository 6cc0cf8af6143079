package erc4337

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// EntryPointVersion selects the user operation format.
type EntryPointVersion int

const (
	// EntryPointV06 takes UserOperation with initCode and paymasterAndData.
	EntryPointV06 EntryPointVersion = iota
	// EntryPointV07 takes PackedUserOperation; RPC callers send the unpacked fields.
	EntryPointV07
)

const gasFieldLength = 16

// UserOperation holds the fields of both formats. Version decides how it is hashed and serialized.
type UserOperation struct {
	Version EntryPointVersion

	Sender               common.Address
	Nonce                *big.Int
	Factory              *common.Address
	FactoryData          []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte

	Signature []byte
}

// InitCode is factory || factoryData, empty for deployed accounts.
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return []byte{}
	}

	return append(op.Factory.Bytes(), op.FactoryData...)
}

// PaymasterAndData is the packed paymaster field of the version's on-chain struct.
func (op *UserOperation) PaymasterAndData() []byte {
	if op.Paymaster == nil {
		return []byte{}
	}

	out := op.Paymaster.Bytes()
	if op.Version == EntryPointV07 {
		out = append(out, pack128(op.PaymasterVerificationGasLimit)...)
		out = append(out, pack128(op.PaymasterPostOpGasLimit)...)
	}

	return append(out, op.PaymasterData...)
}

// Hash returns the user operation hash the account signs.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	var inner []byte
	var err error

	initCodeHash := crypto.Keccak256Hash(op.InitCode())
	callDataHash := crypto.Keccak256Hash(op.CallData)
	paymasterHash := crypto.Keccak256Hash(op.PaymasterAndData())

	switch op.Version {
	case EntryPointV06:
		inner, err = abi.Arguments{
			{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
			{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
			{Type: bytes32Type},
		}.Pack(
			op.Sender, orZero(op.Nonce), initCodeHash, callDataHash,
			orZero(op.CallGasLimit), orZero(op.VerificationGasLimit), orZero(op.PreVerificationGas),
			orZero(op.MaxFeePerGas), orZero(op.MaxPriorityFeePerGas),
			paymasterHash,
		)
	case EntryPointV07:
		inner, err = abi.Arguments{
			{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
			{Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
		}.Pack(
			op.Sender, orZero(op.Nonce), initCodeHash, callDataHash,
			packPair(op.VerificationGasLimit, op.CallGasLimit), orZero(op.PreVerificationGas),
			packPair(op.MaxPriorityFeePerGas, op.MaxFeePerGas), paymasterHash,
		)
	default:
		return common.Hash{}, errors.Errorf("unknown entry point version %d", op.Version)
	}
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode user operation")
	}

	outer, err := abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}}.
		Pack(crypto.Keccak256Hash(inner), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode user operation hash")
	}

	return crypto.Keccak256Hash(outer), nil
}

type userOpV06JSON struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

type userOpV07JSON struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// MarshalJSON renders the eth_sendUserOperation parameter of the operation's version.
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	if op.Version == EntryPointV06 {
		return json.Marshal(userOpV06JSON{
			Sender:               op.Sender,
			Nonce:                hexBig(op.Nonce),
			InitCode:             op.InitCode(),
			CallData:             nonNil(op.CallData),
			CallGasLimit:         hexBig(op.CallGasLimit),
			VerificationGasLimit: hexBig(op.VerificationGasLimit),
			PreVerificationGas:   hexBig(op.PreVerificationGas),
			MaxFeePerGas:         hexBig(op.MaxFeePerGas),
			MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
			PaymasterAndData:     op.PaymasterAndData(),
			Signature:            nonNil(op.Signature),
		})
	}

	out := userOpV07JSON{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		Factory:              op.Factory,
		CallData:             nonNil(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		Paymaster:            op.Paymaster,
		Signature:            nonNil(op.Signature),
	}
	if op.Factory != nil {
		out.FactoryData = nonNil(op.FactoryData)
	}
	if op.Paymaster != nil {
		out.PaymasterVerificationGasLimit = hexBig(op.PaymasterVerificationGasLimit)
		out.PaymasterPostOpGasLimit = hexBig(op.PaymasterPostOpGasLimit)
		out.PaymasterData = nonNil(op.PaymasterData)
	}

	return json.Marshal(out)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v
}

func hexBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(orZero(v))
}

func pack128(v *big.Int) []byte {
	return common.LeftPadBytes(orZero(v).Bytes(), gasFieldLength)
}

// packPair puts hi in the upper and lo in the lower 128 bits of a word.
func packPair(hi *big.Int, lo *big.Int) [32]byte {
	var out [32]byte
	copy(out[:gasFieldLength], pack128(hi))
	copy(out[gasFieldLength:], pack128(lo))

	return out
}
