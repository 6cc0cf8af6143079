package ton_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/strategy/ton"
)

var testnet = chain.Descriptor{
	NetworkID:      "TON_TESTNET",
	Family:         chain.FamilyTON,
	IsTestnet:      true,
	NativeDecimals: 9,
	RPCEndpoints:   []string{"https://testnet.toncenter.com/api/v2/jsonRPC"},
	LiteConfigURL:  "https://ton.org/testnet-global.config.json",
}

type fakeChain struct {
	seqno        uint32
	deployed     bool
	jettonWallet *address.Address
	owners       []string
}

func (f *fakeChain) Seqno(context.Context, *address.Address) (uint32, bool, error) {
	return f.seqno, f.deployed, nil
}

func (f *fakeChain) JettonWallet(_ context.Context, _ *address.Address, owner *address.Address) (*address.Address, error) {
	f.owners = append(f.owners, owner.StringRaw())
	return f.jettonWallet, nil
}

func rawAddress(fill byte, bounce bool) *address.Address {
	addr := address.NewAddress(0, 0, bytes.Repeat([]byte{fill}, 32))
	addr.SetBounce(bounce)

	return addr
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

type parsedMessage struct {
	ext        tlb.ExternalMessage
	subwallet  uint64
	seqno      uint64
	internal   tlb.InternalMessage
	signedHash []byte
	signature  []byte
}

func parse(t *testing.T, env *signing.Envelope) (*ton.SignedTx, parsedMessage) {
	t.Helper()

	signed, ok := env.SignedTransaction.(*ton.SignedTx)
	require.True(t, ok)

	boc, err := base64.StdEncoding.DecodeString(signed.BOC)
	require.NoError(t, err)
	root, err := cell.FromBOC(boc)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(root.Hash()), signed.Hash)

	var out parsedMessage
	require.NoError(t, tlb.LoadFromCell(&out.ext, root.BeginParse()))

	body := out.ext.Body.BeginParse()
	out.signature, err = body.LoadSlice(512)
	require.NoError(t, err)

	payload, err := body.ToCell()
	require.NoError(t, err)
	out.signedHash = payload.Hash()

	out.subwallet, err = body.LoadUInt(32)
	require.NoError(t, err)
	_, err = body.LoadUInt(32)
	require.NoError(t, err)
	out.seqno, err = body.LoadUInt(32)
	require.NoError(t, err)
	op, err := body.LoadUInt(8)
	require.NoError(t, err)
	assert.Zero(t, op)
	mode, err := body.LoadUInt(8)
	require.NoError(t, err)
	assert.EqualValues(t, 3, mode)

	ref, err := body.LoadRef()
	require.NoError(t, err)
	require.NoError(t, tlb.LoadFromCell(&out.internal, ref))

	return signed, out
}

func TestNativeTransferDeploysWallet(t *testing.T) {
	seed := bytes.Repeat([]byte{0x21}, 32)
	key := ed25519.NewKeyFromSeed(seed)
	dest := rawAddress(0x07, true)

	node := &fakeChain{seqno: 0, deployed: false}
	s := ton.New(testnet, signing.Asset{Kind: signing.AssetCoin}, node)

	req := request(dest.String(), "1.5")
	req.Memo = "invoice 42"
	env, err := s.SignTransaction(t.Context(), req, &signing.KeyMaterial{Sender: seed})
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.Equal(t, testnet.PrimaryRPC(), env.RPCURL)

	signed, msg := parse(t, env)

	from, err := wallet.AddressFromPubKey(key.Public().(ed25519.PublicKey), wallet.V4R2, wallet.DefaultSubwallet)
	require.NoError(t, err)
	assert.Equal(t, from.StringRaw(), msg.ext.DstAddr.StringRaw())
	assert.NotNil(t, msg.ext.StateInit)

	assert.True(t, ed25519.Verify(key.Public().(ed25519.PublicKey), msg.signedHash, msg.signature))
	assert.EqualValues(t, wallet.DefaultSubwallet, msg.subwallet)
	assert.Zero(t, msg.seqno)

	assert.Equal(t, dest.StringRaw(), msg.internal.DstAddr.StringRaw())
	assert.True(t, msg.internal.Bounce)
	assert.Equal(t, "1500000000", msg.internal.Amount.Nano().String())

	comment := msg.internal.Body.BeginParse()
	tag, err := comment.LoadUInt(32)
	require.NoError(t, err)
	assert.Zero(t, tag)
	text, err := comment.LoadSlice(comment.BitsLeft())
	require.NoError(t, err)
	assert.Equal(t, "invoice 42", string(text))

	assert.NotEmpty(t, signed.Address)
}

func TestJettonTransferGoesThroughSenderJettonWallet(t *testing.T) {
	seed := bytes.Repeat([]byte{0x33}, 32)
	dest := rawAddress(0x09, false)
	master := rawAddress(0x0a, true)
	jettonWallet := rawAddress(0x0b, true)

	node := &fakeChain{seqno: 12, deployed: true, jettonWallet: jettonWallet}
	s := ton.New(testnet, signing.Asset{Kind: signing.AssetToken, Symbol: "USDT", ContractAddress: master.String(), Decimals: 6}, node)

	env, err := s.SignTransaction(t.Context(), request(dest.String(), "2.25"), &signing.KeyMaterial{Sender: seed})
	require.NoError(t, err)

	_, msg := parse(t, env)
	assert.Nil(t, msg.ext.StateInit)
	assert.EqualValues(t, 12, msg.seqno)
	require.Len(t, node.owners, 1)
	assert.Equal(t, msg.ext.DstAddr.StringRaw(), node.owners[0])

	assert.Equal(t, jettonWallet.StringRaw(), msg.internal.DstAddr.StringRaw())
	assert.Equal(t, "50000000", msg.internal.Amount.Nano().String())

	body := msg.internal.Body.BeginParse()
	op, err := body.LoadUInt(32)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0f8a7ea5, op)
	queryID, err := body.LoadUInt(64)
	require.NoError(t, err)
	assert.EqualValues(t, 12, queryID)
	amount, err := body.LoadBigCoins()
	require.NoError(t, err)
	assert.Equal(t, "2250000", amount.String())
	recipient, err := body.LoadAddr()
	require.NoError(t, err)
	assert.Equal(t, dest.StringRaw(), recipient.StringRaw())
	response, err := body.LoadAddr()
	require.NoError(t, err)
	assert.Equal(t, msg.ext.DstAddr.StringRaw(), response.StringRaw())
}

func TestSignTransactionRejections(t *testing.T) {
	seed := bytes.Repeat([]byte{0x44}, 32)
	dest := rawAddress(0x01, true).String()

	tests := []struct {
		name string
		req  *signing.Request
		keys *signing.KeyMaterial
		want error
	}{
		{"bad address", request("not-an-address", "1"), &signing.KeyMaterial{Sender: seed}, signing.ErrInvalidRequest},
		{"zero amount", request(dest, "0"), &signing.KeyMaterial{Sender: seed}, signing.ErrInvalidRequest},
		{"too many decimals", request(dest, "0.0000000001"), &signing.KeyMaterial{Sender: seed}, signing.ErrInvalidRequest},
		{"short key", request(dest, "1"), &signing.KeyMaterial{Sender: seed[:16]}, signing.ErrKeyReconstruction},
		{"fee payer", request(dest, "1"), &signing.KeyMaterial{Sender: seed, FeePayer: seed}, signing.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ton.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &fakeChain{deployed: true})
			_, err := s.SignTransaction(t.Context(), tt.req, tt.keys)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFactoryRequiresLiteConfig(t *testing.T) {
	d := testnet.Clone()
	d.LiteConfigURL = ""

	_, err := ton.Factory(t.Context(), signing.Env{Chain: d})
	require.ErrorIs(t, err, signing.ErrConfiguration)
}

func TestCreateWallet(t *testing.T) {
	s := ton.New(testnet, signing.Asset{Kind: signing.AssetCoin}, &fakeChain{})

	w, err := s.CreateWallet(t.Context())
	require.NoError(t, err)

	seed, err := hex.DecodeString(w.PrivateKey)
	require.NoError(t, err)
	require.Len(t, seed, 32)

	addr, err := address.ParseAddr(w.Address)
	require.NoError(t, err)
	assert.True(t, addr.IsTestnetOnly())

	want, err := wallet.AddressFromPubKey(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey), wallet.V4R2, wallet.DefaultSubwallet)
	require.NoError(t, err)
	assert.Equal(t, want.StringRaw(), addr.StringRaw())
}
