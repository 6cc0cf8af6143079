package evm

import (
	"crypto/ecdsa"
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
)

const signatureRecoveryOffset = 27

// HashTypedData returns the EIP-712 digest of a typed data document.
func HashTypedData(raw json.RawMessage) ([]byte, error) {
	var td apitypes.TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid permit2 typed data")
	}

	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "failed to hash permit2 typed data")
	}

	return hash, nil
}

// SignHash signs a digest and returns r||s||v with v in {27, 28}.
func SignHash(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign hash")
	}
	sig[crypto.RecoveryIDOffset] += signatureRecoveryOffset

	return sig, nil
}

// SplicePermit2Signature appends the 32 byte big-endian signature length and the signature to calldata.
func SplicePermit2Signature(calldata []byte, sig []byte) []byte {
	length := uint256.NewInt(uint64(len(sig))).Bytes32()

	out := make([]byte, 0, len(calldata)+len(length)+len(sig))
	out = append(out, calldata...)
	out = append(out, length[:]...)

	return append(out, sig...)
}

// SplitPermit2Signature reverses SplicePermit2Signature given the length of the original calldata.
func SplitPermit2Signature(spliced []byte, calldataLen int) ([]byte, []byte, error) {
	if calldataLen < 0 || len(spliced) < calldataLen+abiWordLength {
		return nil, nil, errors.New("spliced calldata too short")
	}

	declared := new(uint256.Int).SetBytes32(spliced[calldataLen : calldataLen+abiWordLength])
	tail := spliced[calldataLen+abiWordLength:]
	if !declared.IsUint64() || declared.Uint64() != uint64(len(tail)) {
		return nil, nil, errors.Errorf("declared signature length %s does not match %d trailing bytes", declared, len(tail))
	}

	return spliced[:calldataLen], tail, nil
}
