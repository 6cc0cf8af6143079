package sui

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const flagEd25519 = 0x00

// transactionIntent is scope TransactionData, version V0, app id Sui.
var transactionIntent = []byte{0, 0, 0}

// AddressOf derives the address of an ed25519 public key.
func AddressOf(pub ed25519.PublicKey) Address {
	return Address(blake2b.Sum256(append([]byte{flagEd25519}, pub...)))
}

// SigningDigest is the message signed for txBytes.
func SigningDigest(txBytes []byte) [32]byte {
	return blake2b.Sum256(append(append([]byte{}, transactionIntent...), txBytes...))
}

// Digest is the transaction digest explorers and nodes report.
func Digest(txBytes []byte) string {
	sum := blake2b.Sum256(append([]byte("TransactionData::"), txBytes...))
	return base58.Encode(sum[:])
}

// Sign returns the serialized signature flag || sig || pubkey in base64.
func Sign(key ed25519.PrivateKey, txBytes []byte) (string, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", errors.New("unexpected public key type")
	}

	digest := SigningDigest(txBytes)
	sig := ed25519.Sign(key, digest[:])
	if !ed25519.Verify(pub, digest[:], sig) {
		return "", errors.New("signature does not verify")
	}

	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, flagEd25519)
	out = append(out, sig...)
	out = append(out, pub...)

	return base64.StdEncoding.EncodeToString(out), nil
}
