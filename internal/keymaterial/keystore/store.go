package keystore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/util"
)

// ErrNotFound is returned by Get before a keystore has been created.
var ErrNotFound = errors.New("keystore not found")

// Store persists the single system keystore.
type Store struct {
	db     boil.ContextExecutor
	params ScryptParams
}

type StoreOption func(*Store)

// WithScryptParams overrides the KDF cost used for new keystores.
func WithScryptParams(p ScryptParams) StoreOption {
	return func(s *Store) {
		s.params = p
	}
}

func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		params: DefaultScryptParams(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create encrypts mnemonic and stores it with the address used to verify later unlocks.
func (s *Store) Create(ctx context.Context, mnemonic string, password string, verificationAddress string) (*Keystore, error) {
	log := util.LogFromContext(ctx)

	exists, err := s.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.New("keystore already exists")
	}

	doc, err := Encrypt([]byte(mnemonic), password, s.params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encrypt mnemonic")
		return nil, errors.Wrap(err, "failed to encrypt mnemonic")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal keystore JSON")
	}

	_, err = queries.Raw(`
		INSERT INTO keystores (id, keystore_data, version, cipher, kdf, verification_address)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		systemKeystoreID, string(data), keystoreVersion, cipherName, kdfName, verificationAddress,
	).ExecContext(ctx, s.db)
	if err != nil {
		log.Error().Err(err).Msg("Failed to insert keystore")
		return nil, errors.Wrap(err, "failed to insert keystore")
	}

	return s.Get(ctx)
}

// Get loads the system keystore.
func (s *Store) Get(ctx context.Context) (*Keystore, error) {
	var ks Keystore

	err := queries.Raw(`
		SELECT id, keystore_data, version, cipher, kdf, verification_address
		FROM keystores
		WHERE id = $1`,
		systemKeystoreID,
	).Bind(ctx, s.db, &ks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, errors.Wrap(err, "failed to get keystore")
	}

	return &ks, nil
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// DecryptMnemonic opens ks with password.
func (s *Store) DecryptMnemonic(ks *Keystore, password string) (string, error) {
	var doc EncryptedJSON
	if err := json.Unmarshal([]byte(ks.KeystoreData), &doc); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal keystore JSON")
	}

	plaintext, err := Decrypt(&doc, password)
	if err != nil {
		return "", err
	}
	defer util.Wipe(plaintext)

	return string(plaintext), nil
}
