package stellar_test

import (
	"crypto/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	hprotocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/render/problem"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/strategy/stellar"
)

const passphrase = "Test SDF Network ; September 2015"

type fakeHorizon struct {
	accounts map[string]int64
}

func (f *fakeHorizon) AccountDetail(request horizonclient.AccountRequest) (hprotocol.Account, error) {
	seq, ok := f.accounts[request.AccountID]
	if !ok {
		return hprotocol.Account{}, &horizonclient.Error{Problem: problem.P{
			Type:   "https://stellar.org/horizon-errors/not_found",
			Title:  "Resource Missing",
			Status: 404,
		}}
	}

	return hprotocol.Account{AccountID: request.AccountID, Sequence: seq}, nil
}

var testnet = chain.Descriptor{
	NetworkID:         "STELLAR_TESTNET",
	Family:            chain.FamilyStellar,
	NativeDecimals:    7,
	RPCEndpoints:      []string{"https://horizon-testnet.stellar.org"},
	NetworkPassphrase: passphrase,
}

func newKey(t *testing.T) ([]byte, *keypair.Full) {
	t.Helper()

	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	var seed [32]byte
	copy(seed[:], raw)
	kp, err := keypair.FromRawSeed(seed)
	require.NoError(t, err)

	return raw, kp
}

func request(to string, amount string) *signing.Request {
	return &signing.Request{
		Operation:     signing.OperationSignTransaction,
		KeyID:         "key-1",
		NetworkID:     testnet.NetworkID,
		TransactionID: "tx-1",
		To:            to,
		Amount:        decimal.RequireFromString(amount),
	}
}

func decode(t *testing.T, env *signing.Envelope) (*stellar.SignedTx, txnbuild.GenericTransaction) {
	t.Helper()

	signed, ok := env.SignedTransaction.(*stellar.SignedTx)
	require.True(t, ok)

	gtx, err := txnbuild.TransactionFromXDR(signed.XDR)
	require.NoError(t, err)

	return signed, *gtx
}

func TestPaymentToExistingAccount(t *testing.T) {
	raw, sender := newKey(t)
	_, dest := newKey(t)
	h := &fakeHorizon{accounts: map[string]int64{sender.Address(): 100, dest.Address(): 5}}

	s := stellar.New(testnet, signing.Asset{Kind: signing.AssetCoin}, h)
	req := request(dest.Address(), "12.5")
	req.Memo = "ref-7"
	env, err := s.SignTransaction(t.Context(), req, &signing.KeyMaterial{Sender: raw})
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	signed, gtx := decode(t, env)
	assert.False(t, signed.FeeBump)

	tx, ok := gtx.Transaction()
	require.True(t, ok)
	assert.EqualValues(t, 101, tx.SequenceNumber())
	assert.Equal(t, txnbuild.MemoText("ref-7"), tx.Memo())

	require.Len(t, tx.Operations(), 1)
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, dest.Address(), payment.Destination)
	assert.Equal(t, "12.5000000", payment.Amount)

	hash, err := tx.Hash(passphrase)
	require.NoError(t, err)
	require.Len(t, tx.Signatures(), 1)
	require.NoError(t, sender.Verify(hash[:], tx.Signatures()[0].Signature))

	hexHash, err := tx.HashHex(passphrase)
	require.NoError(t, err)
	assert.Equal(t, hexHash, signed.Hash)
}

func TestCreateAccountForUnfundedDestination(t *testing.T) {
	raw, sender := newKey(t)
	_, dest := newKey(t)
	h := &fakeHorizon{accounts: map[string]int64{sender.Address(): 1}}

	s := stellar.New(testnet, signing.Asset{Kind: signing.AssetCoin}, h)
	env, err := s.SignTransaction(t.Context(), request(dest.Address(), "2"), &signing.KeyMaterial{Sender: raw})
	require.NoError(t, err)

	_, gtx := decode(t, env)
	tx, ok := gtx.Transaction()
	require.True(t, ok)

	create, ok := tx.Operations()[0].(*txnbuild.CreateAccount)
	require.True(t, ok)
	assert.Equal(t, dest.Address(), create.Destination)
	assert.Equal(t, "2.0000000", create.Amount)

	_, err = s.SignTransaction(t.Context(), request(dest.Address(), "0.5"), &signing.KeyMaterial{Sender: raw})
	assert.True(t, errors.Is(err, signing.ErrInvalidRequest))
}

func TestFeeBumpBySponsor(t *testing.T) {
	raw, sender := newKey(t)
	payerRaw, payer := newKey(t)
	_, dest := newKey(t)
	h := &fakeHorizon{accounts: map[string]int64{sender.Address(): 10, dest.Address(): 3}}

	s := stellar.New(testnet, signing.Asset{Kind: signing.AssetCoin}, h)
	env, err := s.SignTransaction(t.Context(), request(dest.Address(), "1"), &signing.KeyMaterial{Sender: raw, FeePayer: payerRaw})
	require.NoError(t, err)

	signed, gtx := decode(t, env)
	assert.True(t, signed.FeeBump)

	bump, ok := gtx.FeeBump()
	require.True(t, ok)
	assert.Equal(t, payer.Address(), bump.FeeAccount())

	hash, err := bump.Hash(passphrase)
	require.NoError(t, err)
	require.Len(t, bump.Signatures(), 1)
	require.NoError(t, payer.Verify(hash[:], bump.Signatures()[0].Signature))

	inner := bump.InnerTransaction()
	innerHash, err := inner.Hash(passphrase)
	require.NoError(t, err)
	require.NoError(t, sender.Verify(innerHash[:], inner.Signatures()[0].Signature))
}

func TestIssuedAssetPayment(t *testing.T) {
	raw, sender := newKey(t)
	_, dest := newKey(t)
	_, issuer := newKey(t)
	h := &fakeHorizon{accounts: map[string]int64{sender.Address(): 1, dest.Address(): 1}}

	asset := signing.Asset{Kind: signing.AssetToken, Symbol: "USDC", ContractAddress: issuer.Address(), Decimals: 7}
	s := stellar.New(testnet, asset, h)
	env, err := s.SignTransaction(t.Context(), request(dest.Address(), "3"), &signing.KeyMaterial{Sender: raw})
	require.NoError(t, err)

	_, gtx := decode(t, env)
	tx, _ := gtx.Transaction()
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, txnbuild.CreditAsset{Code: "USDC", Issuer: issuer.Address()}, payment.Asset)
}

func TestSignTransactionErrors(t *testing.T) {
	raw, sender := newKey(t)
	_, dest := newKey(t)

	s := stellar.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &fakeHorizon{})
	_, err := s.SignTransaction(t.Context(), request(dest.Address(), "5"), &signing.KeyMaterial{Sender: raw})
	assert.True(t, errors.Is(err, signing.ErrInsufficientFunds), "unfunded source")

	s = stellar.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &fakeHorizon{accounts: map[string]int64{sender.Address(): 1}})
	_, err = s.SignTransaction(t.Context(), request("GNOTANADDRESS", "5"), &signing.KeyMaterial{Sender: raw})
	assert.True(t, errors.Is(err, signing.ErrInvalidRequest))

	_, err = stellar.Factory(t.Context(), signing.Env{Chain: chain.Descriptor{NetworkID: "X", RPCEndpoints: []string{"h"}}})
	assert.True(t, errors.Is(err, signing.ErrConfiguration))
}
