package keymaterial

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github/chapool/tx-signer/internal/util"
)

const hardenedOffset = 0x80000000

// VerificationPath derives the address stored alongside the keystore to detect a wrong mnemonic.
const VerificationPath = "m/44'/60'/0'/0/0"

// PathForKey maps a (corporate id, key id) pair onto m/44'/60'/{corp}'/0/{idx}.
// Both components are the first four bytes of sha256 masked into the non-hardened range.
func PathForKey(keyID string, corporateID string) string {
	return fmt.Sprintf("m/44'/60'/%d'/0/%d", pathIndex(corporateID), pathIndex(keyID))
}

func pathIndex(s string) uint32 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(sum[:4]) & 0x7fffffff
}

// DeriveKey walks path from the seed's master key and returns the 32 byte private key.
// The caller wipes the result.
func DeriveKey(seed []byte, path string) ([]byte, error) {
	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	out := make([]byte, len(key.Key))
	copy(out, key.Key)
	util.Wipe(key.Key)

	return out, nil
}

// ParsePath parses "m/44'/60'/0'/0/0" style paths. Both ' and h mark hardened segments.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, errors.Errorf("invalid derivation path %q", path)
	}

	indices := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			return nil, errors.Errorf("invalid derivation path %q: empty segment", path)
		}

		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}

		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || n >= hardenedOffset {
			return nil, errors.Errorf("invalid derivation path segment %q", part)
		}

		index := uint32(n)
		if hardened {
			index += hardenedOffset
		}
		indices = append(indices, index)
	}

	return indices, nil
}

// EVMAddress returns the checksummed address of a raw secp256k1 key.
func EVMAddress(privateKey []byte) (common.Address, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	return crypto.PubkeyToAddress(key.PublicKey), nil
}
