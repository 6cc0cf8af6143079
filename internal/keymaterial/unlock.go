package keymaterial

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/keymaterial/keystore"
	"github/chapool/tx-signer/internal/keymaterial/seed"
	"github/chapool/tx-signer/internal/util"
	"golang.org/x/term"
)

const (
	minPasswordLength = 8
	mnemonicEntropy   = 256
)

var (
	ErrPasswordRequired    = errors.New("keystore password required: set KEYSTORE_PASSWORD or allow terminal input")
	ErrVerificationFailure = errors.New("derived verification address does not match the stored one")
)

// PasswordPrompt reads a secret from the operator.
type PasswordPrompt func(prompt string) (string, error)

// Unlocker opens (or on first start creates) the system keystore and loads the seed.
type Unlocker struct {
	cfg    config.Keystore
	store  *keystore.Store
	seeds  seed.Manager
	prompt PasswordPrompt
}

func NewUnlocker(cfg config.Keystore, store *keystore.Store, seeds seed.Manager) *Unlocker {
	return &Unlocker{
		cfg:    cfg,
		store:  store,
		seeds:  seeds,
		prompt: terminalPrompt,
	}
}

// WithPrompt replaces the terminal prompt.
func (u *Unlocker) WithPrompt(p PasswordPrompt) *Unlocker {
	u.prompt = p
	return u
}

func (u *Unlocker) Unlock(ctx context.Context) error {
	log := util.LogFromContext(ctx).With().Str("component", "keystore_unlock").Logger()

	exists, err := u.store.Exists(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check keystore existence")
	}

	if !exists {
		log.Info().Msg("Keystore not found, creating a new one")
		return u.create(ctx)
	}

	password, err := u.password(false)
	if err != nil {
		return err
	}

	ks, err := u.store.Get(ctx)
	if err != nil {
		return err
	}

	mnemonic, err := u.store.DecryptMnemonic(ks, password)
	if err != nil {
		return errors.Wrap(err, "failed to decrypt keystore")
	}

	if err := u.seeds.Initialize(mnemonic, ""); err != nil {
		return errors.Wrap(err, "failed to initialize seed manager")
	}

	if ks.VerificationAddress != nil && *ks.VerificationAddress != "" {
		addr, err := u.verificationAddress()
		if err != nil {
			u.seeds.Clear()
			return err
		}
		if !strings.EqualFold(addr, *ks.VerificationAddress) {
			u.seeds.Clear()
			return ErrVerificationFailure
		}
	}

	log.Info().Msg("Keystore unlocked")

	return nil
}

func (u *Unlocker) create(ctx context.Context) error {
	log := util.LogFromContext(ctx)

	mnemonic := strings.TrimSpace(u.cfg.ImportMnemonic)
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(mnemonicEntropy)
		if err != nil {
			return errors.Wrap(err, "failed to generate entropy")
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return errors.Wrap(err, "failed to generate mnemonic")
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("imported mnemonic is not a valid BIP-39 phrase")
	}

	password, err := u.password(true)
	if err != nil {
		return err
	}

	if err := u.seeds.Initialize(mnemonic, ""); err != nil {
		return errors.Wrap(err, "failed to initialize seed manager")
	}

	addr, err := u.verificationAddress()
	if err != nil {
		u.seeds.Clear()
		return err
	}

	if _, err := u.store.Create(ctx, mnemonic, password, addr); err != nil {
		u.seeds.Clear()
		return errors.Wrap(err, "failed to create keystore")
	}

	log.Info().Str("verification_address", addr).Msg("Keystore created")

	return nil
}

func (u *Unlocker) password(confirm bool) (string, error) {
	password := u.cfg.Password
	if password == "" {
		if !u.cfg.AllowTerminalInput || u.prompt == nil {
			return "", ErrPasswordRequired
		}

		var err error
		password, err = u.prompt(fmt.Sprintf("Enter keystore password (min %d characters): ", minPasswordLength))
		if err != nil {
			return "", errors.Wrap(err, "failed to read password")
		}

		if confirm {
			again, err := u.prompt("Confirm password: ")
			if err != nil {
				return "", errors.Wrap(err, "failed to read password confirmation")
			}
			if again != password {
				return "", errors.New("passwords do not match")
			}
		}
	}

	if len(password) < minPasswordLength {
		return "", errors.Errorf("password must be at least %d characters", minPasswordLength)
	}

	return password, nil
}

func (u *Unlocker) verificationAddress() (string, error) {
	masterSeed := u.seeds.GetSeed()
	if masterSeed == nil {
		return "", errors.New("seed manager not initialized")
	}
	defer util.Wipe(masterSeed)

	key, err := DeriveKey(masterSeed, VerificationPath)
	if err != nil {
		return "", err
	}
	defer util.Wipe(key)

	addr, err := EVMAddress(key)
	if err != nil {
		return "", err
	}

	return addr.Hex(), nil
}

//nolint:forbidigo
func terminalPrompt(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrPasswordRequired
	}

	fmt.Print(prompt)
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "failed to read password from terminal")
	}

	return string(b), nil
}
