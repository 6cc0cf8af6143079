package seed

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"github/chapool/tx-signer/internal/util"
)

type manager struct {
	seed []byte
	mu   sync.RWMutex
}

// NewManager creates a locked Manager.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewManager() Manager {
	return &manager{}
}

func (m *manager) Initialize(mnemonic string, passphrase string) error {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return errors.Wrap(err, "invalid mnemonic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	util.Wipe(m.seed)
	m.seed = seed

	return nil
}

func (m *manager) GetSeed() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.seed == nil {
		return nil
	}

	out := make([]byte, len(m.seed))
	copy(out, m.seed)

	return out
}

func (m *manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.seed != nil
}

func (m *manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	util.Wipe(m.seed)
	m.seed = nil
}
