package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// ErrInvalidPassword is returned when the MAC of a keystore does not match.
var ErrInvalidPassword = errors.New("invalid keystore password")

// Encrypt seals plaintext with a scrypt-derived key.
//
//nolint:varnamelen
func Encrypt(plaintext []byte, password string, params ScryptParams) (*EncryptedJSON, error) {
	salt := make([]byte, 32) //nolint:mnd
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "failed to generate IV")
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	ciphertext, err := aesCTR(derivedKey[:16], iv, plaintext)
	if err != nil {
		return nil, err
	}

	out := &EncryptedJSON{
		Version: keystoreVersion,
		ID:      uuid.New().String(),
	}
	out.Crypto.Ciphertext = hex.EncodeToString(ciphertext)
	out.Crypto.CipherParams.IV = hex.EncodeToString(iv)
	out.Crypto.Cipher = cipherName
	out.Crypto.KDF = kdfName
	out.Crypto.KDFParams.DKLen = params.DKLen
	out.Crypto.KDFParams.Salt = hex.EncodeToString(salt)
	out.Crypto.KDFParams.N = params.N
	out.Crypto.KDFParams.R = params.R
	out.Crypto.KDFParams.P = params.P
	out.Crypto.MAC = hex.EncodeToString(mac(derivedKey[16:32], ciphertext))

	return out, nil
}

// Decrypt opens a document produced by Encrypt.
//
//nolint:varnamelen
func Decrypt(doc *EncryptedJSON, password string) ([]byte, error) {
	if doc.Crypto.Cipher != cipherName || doc.Crypto.KDF != kdfName {
		return nil, errors.Errorf("unsupported keystore cipher %q / kdf %q", doc.Crypto.Cipher, doc.Crypto.KDF)
	}

	salt, err := hex.DecodeString(doc.Crypto.KDFParams.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode salt")
	}

	iv, err := hex.DecodeString(doc.Crypto.CipherParams.IV)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode IV")
	}

	ciphertext, err := hex.DecodeString(doc.Crypto.Ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode ciphertext")
	}

	expected, err := hex.DecodeString(doc.Crypto.MAC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode MAC")
	}

	p := doc.Crypto.KDFParams
	derivedKey, err := scrypt.Key([]byte(password), salt, p.N, p.R, p.P, p.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	if subtle.ConstantTimeCompare(mac(derivedKey[16:32], ciphertext), expected) != 1 {
		return nil, ErrInvalidPassword
	}

	return aesCTR(derivedKey[:16], iv, ciphertext)
}

// CTR mode is symmetric, the same call encrypts and decrypts.
//
//nolint:varnamelen
func aesCTR(key []byte, iv []byte, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)

	return out, nil
}

// mac is keccak256(derivedKey[16:32] || ciphertext), as in Ethereum keystores.
func mac(macKey []byte, ciphertext []byte) []byte {
	return crypto.Keccak256(macKey, ciphertext)
}
