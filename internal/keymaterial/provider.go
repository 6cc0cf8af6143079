package keymaterial

import (
	"context"
	"encoding/hex"
	"strings"

	"github/chapool/tx-signer/internal/keymaterial/seed"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util"
)

const keyLength = 32

// SeedProvider reconstructs signing keys from the unlocked master seed.
// The seed-derived share is XOR-combined with the caller's secondary share, when one is given.
type SeedProvider struct {
	seeds seed.Manager
}

func NewSeedProvider(seeds seed.Manager) *SeedProvider {
	return &SeedProvider{seeds: seeds}
}

func (p *SeedProvider) GetFullPrivateKey(ctx context.Context, keyID string, secondaryShare string, corporateID string) ([]byte, error) {
	if keyID == "" {
		return nil, signing.NewError(signing.CodeInvalidRequest, "key id is required")
	}

	share, err := decodeShare(secondaryShare)
	if err != nil {
		return nil, err
	}
	defer util.Wipe(share)

	masterSeed := p.seeds.GetSeed()
	if masterSeed == nil {
		return nil, signing.NewError(signing.CodeKeyReconstruction, "keystore is locked")
	}
	defer util.Wipe(masterSeed)

	key, err := DeriveKey(masterSeed, PathForKey(keyID, corporateID))
	if err != nil {
		util.LogFromContext(ctx).Error().Err(err).Str("key_id", keyID).Msg("Failed to derive key")
		return nil, signing.WrapError(err, signing.CodeKeyReconstruction, "failed to derive key")
	}

	for i := range share {
		key[i] ^= share[i]
	}

	if isZero(key) {
		util.Wipe(key)
		return nil, signing.NewError(signing.CodeInvalidKeyShare, "secondary share cancels the derived key")
	}

	return key, nil
}

func decodeShare(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}

	share, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidKeyShare, "secondary key share is not hex")
	}
	if len(share) != keyLength {
		util.Wipe(share)
		return nil, signing.NewError(signing.CodeInvalidKeyShare, "secondary key share must be %d bytes, got %d", keyLength, len(share))
	}

	return share, nil
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}

	return acc == 0
}
