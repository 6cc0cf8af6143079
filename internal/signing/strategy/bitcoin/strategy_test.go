package bitcoin_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/strategy/bitcoin"
)

type fakeExplorer struct {
	utxos   []bitcoin.UTXO
	rate    int64
	rateErr error
	queried string
}

func (f *fakeExplorer) UTXOs(_ context.Context, address string) ([]bitcoin.UTXO, error) {
	f.queried = address
	return f.utxos, nil
}

func (f *fakeExplorer) FeeRate(context.Context) (int64, error) {
	return f.rate, f.rateErr
}

var testnet = chain.Descriptor{
	NetworkID:      "BITCOIN_TESTNET",
	Family:         chain.FamilyBitcoin,
	NativeDecimals: 8,
	BitcoinNet:     "testnet3",
	ExplorerURL:    "https://explorer.example/api",
}

func newKey(t *testing.T) (*btcec.PrivateKey, *btcutil.AddressWitnessPubKeyHash) {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := bitcoin.Address(key.PubKey(), &chaincfg.TestNet3Params)
	require.NoError(t, err)

	return key, addr
}

func transfer(to string, amount string) *signing.Request {
	return &signing.Request{
		Operation:     signing.OperationSignTransaction,
		KeyID:         "key-1",
		NetworkID:     testnet.NetworkID,
		TransactionID: "tx-1",
		Asset:         signing.Asset{Kind: signing.AssetCoin, Symbol: "tBTC"},
		To:            to,
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestSignTransactionBuildsSignedPSBT(t *testing.T) {
	key, from := newKey(t)
	_, to := newKey(t)

	explorer := &fakeExplorer{utxos: []bitcoin.UTXO{utxo("bb", 0, 50000), utxo("aa", 1, 60000)}, rate: 1}
	s := bitcoin.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &chaincfg.TestNet3Params, explorer, "https://explorer.example/api/tx", 0)

	env, err := s.SignTransaction(t.Context(), transfer(to.EncodeAddress(), "0.0007"), &signing.KeyMaterial{Sender: key.Serialize()})
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.Equal(t, "https://explorer.example/api/tx", env.RPCURL)
	assert.Equal(t, from.EncodeAddress(), explorer.queried)

	signed, ok := env.SignedTransaction.(*bitcoin.SignedPSBT)
	require.True(t, ok)
	assert.EqualValues(t, 374, signed.Fee)

	raw, err := hex.DecodeString(signed.Hex)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	assert.Equal(t, signed.TxID, tx.TxHash().String())
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, strings.Repeat("aa", 32), tx.TxIn[0].PreviousOutPoint.Hash.String())
	assert.EqualValues(t, 70000, tx.TxOut[0].Value)
	assert.EqualValues(t, 110000-70000-374, tx.TxOut[1].Value)
	for _, in := range tx.TxIn {
		assert.Len(t, in.Witness, 2)
	}

	packet, err := psbt.NewFromRawBytes(strings.NewReader(signed.PSBT), true)
	require.NoError(t, err)
	assert.True(t, packet.IsComplete())
}

func TestSignTransactionFallsBackToDefaultFeeRate(t *testing.T) {
	key, _ := newKey(t)
	_, to := newKey(t)

	explorer := &fakeExplorer{utxos: []bitcoin.UTXO{utxo("ab", 0, 100000)}, rateErr: signing.Transient(nil, "down")}
	s := bitcoin.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &chaincfg.TestNet3Params, explorer, "https://explorer.example/api/tx", 2)

	env, err := s.SignTransaction(t.Context(), transfer(to.EncodeAddress(), "0.000997"), &signing.KeyMaterial{Sender: key.Serialize()})
	require.NoError(t, err)

	signed := env.SignedTransaction.(*bitcoin.SignedPSBT) //nolint:forcetypeassert
	assert.EqualValues(t, 300, signed.Fee)
}

func TestSignTransactionRejects(t *testing.T) {
	key, _ := newKey(t)
	_, to := newKey(t)
	explorer := &fakeExplorer{utxos: []bitcoin.UTXO{utxo("ab", 0, 100000)}, rate: 1}

	t.Run("token", func(t *testing.T) {
		s := bitcoin.New(testnet, signing.Asset{Kind: signing.AssetToken, ContractAddress: "x"}, &chaincfg.TestNet3Params, explorer, "u", 0)
		_, err := s.SignTransaction(t.Context(), transfer(to.EncodeAddress(), "0.0001"), &signing.KeyMaterial{Sender: key.Serialize()})
		assert.Equal(t, signing.CodeNotSupported, signing.CodeOf(err))
	})

	t.Run("mainnet address", func(t *testing.T) {
		mainAddr, err := bitcoin.Address(key.PubKey(), &chaincfg.MainNetParams)
		require.NoError(t, err)

		s := bitcoin.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &chaincfg.TestNet3Params, explorer, "u", 0)
		_, err = s.SignTransaction(t.Context(), transfer(mainAddr.EncodeAddress(), "0.0001"), &signing.KeyMaterial{Sender: key.Serialize()})
		assert.Equal(t, signing.CodeInvalidRequest, signing.CodeOf(err))
	})

	t.Run("contract call", func(t *testing.T) {
		s := bitcoin.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &chaincfg.TestNet3Params, explorer, "u", 0)
		_, err := s.SignContractTransaction(t.Context(), transfer(to.EncodeAddress(), "0.0001"), &signing.KeyMaterial{Sender: key.Serialize()})
		assert.True(t, errors.Is(err, signing.ErrNotSupported))
	})
}

func TestSignPacketRejectsForeignSignature(t *testing.T) {
	key, from := newKey(t)
	other, to := newKey(t)

	sel, err := bitcoin.SelectCoins([]bitcoin.UTXO{utxo("ab", 0, 100000)}, 50000, 1)
	require.NoError(t, err)

	packet, err := bitcoin.BuildPacket(sel, from, to)
	require.NoError(t, err)

	_, err = bitcoin.SignPacket(packet, key.PubKey(), bitcoin.KeySigner(other))
	require.Error(t, err)
	assert.True(t, errors.Is(err, signing.ErrSignatureValidation))
}

func TestFactoryRequiresExplorer(t *testing.T) {
	d := testnet.Clone()
	d.ExplorerURL = ""

	_, err := bitcoin.Factory(t.Context(), signing.Env{Chain: d})
	assert.True(t, errors.Is(err, signing.ErrConfiguration))

	d = testnet.Clone()
	d.BitcoinNet = "litecoin"
	_, err = bitcoin.Factory(t.Context(), signing.Env{Chain: d})
	assert.True(t, errors.Is(err, signing.ErrConfiguration))
}

func TestCreateWallet(t *testing.T) {
	s := bitcoin.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &chaincfg.TestNet3Params, &fakeExplorer{}, "u", 0)

	w, err := s.CreateWallet(t.Context())
	require.NoError(t, err)

	wif, err := btcutil.DecodeWIF(w.PrivateKey)
	require.NoError(t, err)
	addr, err := bitcoin.Address(wif.PrivKey.PubKey(), &chaincfg.TestNet3Params)
	require.NoError(t, err)
	assert.Equal(t, addr.EncodeAddress(), w.Address)
	assert.True(t, strings.HasPrefix(w.Address, "tb1q"))
}
