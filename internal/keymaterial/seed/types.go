package seed

// Manager keeps the unlocked master seed in memory.
type Manager interface {
	// Initialize derives and stores the BIP-39 seed of mnemonic.
	Initialize(mnemonic string, passphrase string) error

	// GetSeed returns a copy of the seed or nil while locked. Callers wipe the copy.
	GetSeed() []byte

	IsInitialized() bool

	// Clear wipes the seed from memory.
	Clear()
}
