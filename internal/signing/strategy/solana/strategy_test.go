package solana_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	solstrategy "github/chapool/tx-signer/internal/signing/strategy/solana"
	"github/chapool/tx-signer/internal/util/retry"
)

type fakeRPC struct {
	blockhash solana.Hash
	existing  map[solana.PublicKey]bool
	lookups   []solana.PublicKey
	fail      error
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if f.fail != nil {
		return nil, f.fail
	}

	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: f.blockhash, LastValidBlockHeight: 100}}, nil
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.lookups = append(f.lookups, account)
	if !f.existing[account] {
		return nil, rpc.ErrNotFound
	}

	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: solana.TokenProgramID}}, nil
}

var devnet = chain.Descriptor{
	NetworkID:      "SOLANA_DEVNET",
	Family:         chain.FamilySolana,
	NativeDecimals: 9,
	RPCEndpoints:   []string{"https://api.devnet.solana.com"},
}

func seed(t *testing.T) []byte {
	t.Helper()

	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func pubOf(t *testing.T, raw []byte) solana.PublicKey {
	t.Helper()

	key, err := signing.Ed25519Key(raw, "test")
	require.NoError(t, err)

	return solana.PrivateKey(key).PublicKey()
}

func request(to string, amount string) *signing.Request {
	return &signing.Request{
		Operation:     signing.OperationSignTransaction,
		KeyID:         "key-1",
		NetworkID:     devnet.NetworkID,
		TransactionID: "tx-1",
		To:            to,
		Amount:        decimal.RequireFromString(amount),
	}
}

func decode(t *testing.T, env *signing.Envelope) (*solstrategy.SignedTx, *solana.Transaction) {
	t.Helper()

	signed, ok := env.SignedTransaction.(*solstrategy.SignedTx)
	require.True(t, ok)

	var tx solana.Transaction
	require.NoError(t, tx.UnmarshalBase64(signed.Transaction))
	require.NoError(t, tx.VerifySignatures())

	return signed, &tx
}

func programs(tx *solana.Transaction) []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(tx.Message.Instructions))
	for _, ins := range tx.Message.Instructions {
		out = append(out, tx.Message.AccountKeys[ins.ProgramIDIndex])
	}

	return out
}

func TestSignNativeTransfer(t *testing.T) {
	sender := seed(t)
	to := solana.NewWallet().PublicKey()
	node := &fakeRPC{blockhash: solana.Hash{7}}

	s := solstrategy.New(devnet, signing.Asset{Kind: signing.AssetCoin}, node, retry.Policy{Attempts: 1})
	env, err := s.SignTransaction(t.Context(), request(to.String(), "0.25"), &signing.KeyMaterial{Sender: sender})
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	signed, tx := decode(t, env)
	assert.Equal(t, pubOf(t, sender).String(), signed.FeePayer)
	assert.Equal(t, solana.Hash{7}, tx.Message.RecentBlockhash)
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, []solana.PublicKey{solana.SystemProgramID}, programs(tx))
}

func TestSignSponsoredTokenTransferCreatesAccount(t *testing.T) {
	sender := seed(t)
	payer := seed(t)
	to := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	node := &fakeRPC{blockhash: solana.Hash{9}}

	asset := signing.Asset{Kind: signing.AssetToken, ContractAddress: mint.String(), Decimals: 6}
	s := solstrategy.New(devnet, asset, node, retry.Policy{Attempts: 1})

	req := request(to.String(), "3.5")
	req.Memo = "invoice 42"
	env, err := s.SignTransaction(t.Context(), req, &signing.KeyMaterial{Sender: sender, FeePayer: payer})
	require.NoError(t, err)

	signed, tx := decode(t, env)
	assert.Equal(t, pubOf(t, payer).String(), signed.FeePayer)
	assert.Equal(t, pubOf(t, payer), tx.Message.AccountKeys[0])
	assert.Len(t, tx.Signatures, 2)

	assert.Equal(t, []solana.PublicKey{solana.SPLAssociatedTokenAccountProgramID, solana.TokenProgramID, solana.MemoProgramID}, programs(tx))

	ata, _, err := solana.FindAssociatedTokenAddress(to, mint)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{ata}, node.lookups)
}

func TestSignTokenTransferToExistingAccount(t *testing.T) {
	sender := seed(t)
	to := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	ata, _, err := solana.FindAssociatedTokenAddress(to, mint)
	require.NoError(t, err)
	node := &fakeRPC{existing: map[solana.PublicKey]bool{ata: true}}

	asset := signing.Asset{Kind: signing.AssetToken, ContractAddress: mint.String(), Decimals: 6}
	s := solstrategy.New(devnet, asset, node, retry.Policy{Attempts: 1})
	env, err := s.SignTransaction(t.Context(), request(to.String(), "1"), &signing.KeyMaterial{Sender: sender})
	require.NoError(t, err)

	_, tx := decode(t, env)
	assert.Equal(t, []solana.PublicKey{solana.TokenProgramID}, programs(tx))
}

func TestSignTransactionErrors(t *testing.T) {
	sender := seed(t)

	s := solstrategy.New(devnet, signing.Asset{Kind: signing.AssetCoin}, &fakeRPC{}, retry.Policy{Attempts: 1})
	_, err := s.SignTransaction(t.Context(), request("not-base58-0OIl", "1"), &signing.KeyMaterial{Sender: sender})
	assert.True(t, errors.Is(err, signing.ErrInvalidRequest))

	_, err = s.SignTransaction(t.Context(), request(solana.NewWallet().PublicKey().String(), "1"), &signing.KeyMaterial{Sender: sender[:16]})
	assert.True(t, errors.Is(err, signing.ErrKeyReconstruction))

	down := solstrategy.New(devnet, signing.Asset{Kind: signing.AssetCoin}, &fakeRPC{fail: errors.New("503")}, retry.Policy{Attempts: 2})
	_, err = down.SignTransaction(t.Context(), request(solana.NewWallet().PublicKey().String(), "1"), &signing.KeyMaterial{Sender: sender})
	assert.True(t, signing.IsRetryable(err))

	_, err = s.SignSwapTransaction(t.Context(), request("x", "1"), &signing.KeyMaterial{Sender: sender})
	assert.True(t, errors.Is(err, signing.ErrNotSupported))
}

func TestCreateWallet(t *testing.T) {
	s := solstrategy.New(devnet, signing.Asset{Kind: signing.AssetCoin}, &fakeRPC{}, retry.Policy{})

	w, err := s.CreateWallet(t.Context())
	require.NoError(t, err)

	_, err = solana.PublicKeyFromBase58(w.Address)
	require.NoError(t, err)
}
