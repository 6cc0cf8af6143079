// Package ton signs TON and jetton transfers from v4r2 wallets. Undeployed wallets are deployed by
// their first outgoing message.
package ton

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

const (
	// validFor bounds how long the signed message is accepted by the wallet.
	validFor = 5 * time.Minute

	// jettonAttachNano is sent to the sender's jetton wallet to pay for the transfer chain.
	jettonAttachNano  = 50_000_000
	jettonForwardNano = 1
)

// SignedTx is the broadcast payload of a TON external message.
type SignedTx struct {
	BOC     string `json:"boc"`
	Hash    string `json:"hash"`
	Address string `json:"address"`
}

type Strategy struct {
	signing.Unsupported

	chain     chain.Descriptor
	asset     signing.Asset
	node      Chain
	subwallet uint32
	now       func() time.Time
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(ctx context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	if env.Chain.LiteConfigURL == "" {
		return nil, signing.Configuration("network %s has no liteserver config url", env.Chain.NetworkID)
	}

	node, err := DialLite(ctx, env.Chain.LiteConfigURL)
	if err != nil {
		return nil, err
	}

	return New(env.Chain, env.Asset, node), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, node Chain) *Strategy {
	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilyTON},
		chain:       descriptor,
		asset:       asset,
		node:        node,
		subwallet:   wallet.DefaultSubwallet,
		now:         time.Now,
	}
}

func (s *Strategy) Close() {
	if c, ok := s.node.(signing.Closer); ok {
		c.Close()
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 key")
	}
	defer util.Wipe(key)

	addr, err := s.address(pub)
	if err != nil {
		return nil, err
	}

	return &signing.Wallet{
		PrivateKey: hex.EncodeToString(key.Seed()),
		Address:    addr.String(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	if keys.Sponsored() {
		return nil, signing.NewError(signing.CodeInvalidRequest, "ton transfers cannot name a fee payer")
	}

	key, err := signing.Ed25519Key(keys.Sender, "sender")
	if err != nil {
		return nil, err
	}
	defer util.Wipe(key)

	to, err := address.ParseAddr(req.To)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid ton address")
	}

	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, signing.NewError(signing.CodeInvalidRequest, "amount must be positive")
	}

	from, err := s.address(key.Public().(ed25519.PublicKey)) //nolint:forcetypeassert
	if err != nil {
		return nil, err
	}

	seqno, deployed, err := s.node.Seqno(ctx, from)
	if err != nil {
		return nil, err
	}

	var comment *cell.Cell
	if req.Memo != "" {
		comment, err = wallet.CreateCommentCell(req.Memo)
		if err != nil {
			return nil, signing.WrapError(err, signing.CodeInvalidRequest, "memo cannot be encoded")
		}
	}

	transfer := Transfer{To: to, Amount: amount, Bounce: to.IsBounceable(), Body: comment}
	if s.asset.IsToken() {
		transfer, err = s.jettonTransfer(ctx, from, to, amount, uint64(seqno), comment)
		if err != nil {
			return nil, err
		}
	}

	validUntil := uint32(s.now().Add(validFor).Unix()) //nolint:gosec
	msg, _, err := ExternalV4R2(key, s.subwallet, seqno, validUntil, deployed, []Transfer{transfer})
	if err != nil {
		return nil, err
	}

	signed := &SignedTx{
		BOC:     base64.StdEncoding.EncodeToString(msg.ToBOC()),
		Hash:    hex.EncodeToString(msg.Hash()),
		Address: from.String(),
	}

	util.LogFromContext(ctx).Debug().
		Str("from", signed.Address).
		Uint32("seqno", seqno).
		Bool("deploy", !deployed).
		Str("hash", signed.Hash).
		Msg("Signed ton message")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

func (s *Strategy) jettonTransfer(ctx context.Context, from, to *address.Address, amount *big.Int, queryID uint64, comment *cell.Cell) (Transfer, error) {
	master, err := address.ParseAddr(s.asset.ContractAddress)
	if err != nil {
		return Transfer{}, signing.WrapError(err, signing.CodeInvalidRequest, "invalid jetton master address")
	}

	jettonWallet, err := s.node.JettonWallet(ctx, master, from)
	if err != nil {
		return Transfer{}, err
	}

	return Transfer{
		To:     jettonWallet,
		Amount: big.NewInt(jettonAttachNano),
		Bounce: true,
		Body:   JettonTransferBody(queryID, amount, to, from, big.NewInt(jettonForwardNano), comment),
	}, nil
}

func (s *Strategy) address(pub ed25519.PublicKey) (*address.Address, error) {
	addr, err := wallet.AddressFromPubKey(pub, wallet.V4R2, s.subwallet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive wallet address")
	}
	addr.SetTestnetOnly(s.chain.IsTestnet)

	return addr, nil
}
