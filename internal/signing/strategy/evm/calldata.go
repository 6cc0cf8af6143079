package evm

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github/chapool/tx-signer/internal/signing"
)

const abiWordLength = 32

// transfer(address,uint256)
var transferMethodID = []byte{0xa9, 0x05, 0x9c, 0xbb}

// EncodeERC20Transfer builds calldata for transfer(to, amount).
func EncodeERC20Transfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, len(transferMethodID)+2*abiWordLength)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), abiWordLength)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), abiWordLength)...)

	return data
}

// ParseAddress validates a 0x address.
func ParseAddress(field string, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, signing.NewError(signing.CodeInvalidRequest, "%s %q is not an EVM address", field, s)
	}

	return common.HexToAddress(s), nil
}

// TransferCall turns a transfer request into the call that performs it.
func TransferCall(req *signing.Request, asset signing.Asset, amount *big.Int) (Call, error) {
	to, err := ParseAddress("to", req.To)
	if err != nil {
		return Call{}, err
	}

	if !asset.IsToken() {
		return Call{To: to, Value: amount}, nil
	}

	token, err := ParseAddress("contractAddress", asset.ContractAddress)
	if err != nil {
		return Call{}, err
	}

	return Call{To: token, Value: new(big.Int), Data: EncodeERC20Transfer(to, amount)}, nil
}

// Call is a decoded contract call.
type Call struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// DecodeCalls validates request calls.
func DecodeCalls(calls []signing.Call) ([]Call, error) {
	out := make([]Call, 0, len(calls))
	for i, c := range calls {
		to, err := ParseAddress("call target", c.To)
		if err != nil {
			return nil, err
		}

		value, err := signing.ParseBaseUnits(c.Value)
		if err != nil {
			return nil, signing.WrapError(err, signing.CodeInvalidRequest, "call "+strconv.Itoa(i))
		}

		out = append(out, Call{To: to, Value: value, Data: c.Data, GasLimit: c.GasLimit})
	}

	return out, nil
}
