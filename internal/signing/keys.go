package signing

import (
	"crypto/ed25519"
)

// Ed25519Key expands 32 bytes of key material into an ed25519 key. The key material is used as the seed.
func Ed25519Key(raw []byte, who string) (ed25519.PrivateKey, error) {
	if len(raw) != ed25519.SeedSize {
		return nil, NewError(CodeKeyReconstruction, "%s key has %d bytes, want %d", who, len(raw), ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(raw), nil
}
