package keystore_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/keymaterial/keystore"
	"github/chapool/tx-signer/internal/test"
)

func TestEncryptDecrypt(t *testing.T) {
	doc, err := keystore.Encrypt([]byte("secret words"), "pw", keystore.LightScryptParams())
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Version)
	assert.Equal(t, "aes-128-ctr", doc.Crypto.Cipher)
	assert.Len(t, doc.Crypto.MAC, 64)

	plain, err := keystore.Decrypt(doc, "pw")
	require.NoError(t, err)
	assert.Equal(t, "secret words", string(plain))

	_, err = keystore.Decrypt(doc, "wrong")
	require.ErrorIs(t, err, keystore.ErrInvalidPassword)
}

func TestStoreLifecycle(t *testing.T) {
	test.WithTestDatabase(t, func(db *sql.DB) {
		ctx := t.Context()
		s := keystore.NewStore(db, keystore.WithScryptParams(keystore.LightScryptParams()))

		exists, err := s.Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = s.Get(ctx)
		require.ErrorIs(t, err, keystore.ErrNotFound)

		ks, err := s.Create(ctx, "m n e m o n i c", "pw", "0xabc")
		require.NoError(t, err)
		require.NotNil(t, ks.VerificationAddress)
		assert.Equal(t, "0xabc", *ks.VerificationAddress)

		_, err = s.Create(ctx, "other", "pw", "0xdef")
		require.Error(t, err)

		loaded, err := s.Get(ctx)
		require.NoError(t, err)

		mnemonic, err := s.DecryptMnemonic(loaded, "pw")
		require.NoError(t, err)
		assert.Equal(t, "m n e m o n i c", mnemonic)

		_, err = s.DecryptMnemonic(loaded, "nope")
		require.ErrorIs(t, err, keystore.ErrInvalidPassword)
	})
}
