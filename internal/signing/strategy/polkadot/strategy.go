// Package polkadot signs native balance transfers on substrate relay chains with sr25519 keys.
package polkadot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/pkg/errors"
	"github.com/vedhavyas/go-subkey/v2"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

// SignedTx is the author_submitExtrinsic payload.
type SignedTx struct {
	Extrinsic string `json:"extrinsic"`
	Nonce     uint32 `json:"nonce"`
	From      string `json:"from"`
}

type Strategy struct {
	signing.Unsupported

	chain chain.Descriptor
	asset signing.Asset
	node  Node
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(_ context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	url := env.Chain.PrimaryRPC()
	if url == "" {
		return nil, signing.Configuration("network %s has no polkadot rpc endpoint", env.Chain.NetworkID)
	}

	node, err := DialNode(url)
	if err != nil {
		return nil, err
	}

	return New(env.Chain, env.Asset, node), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, node Node) *Strategy {
	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilyPolkadot},
		chain:       descriptor,
		asset:       asset,
		node:        node,
	}
}

func (s *Strategy) Close() {
	if c, ok := s.node.(signing.Closer); ok {
		c.Close()
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "failed to generate sr25519 secret")
	}
	defer util.Wipe(secret)

	pair, err := s.keyring(secret)
	if err != nil {
		return nil, err
	}

	return &signing.Wallet{
		PrivateKey: hex.EncodeToString(secret),
		Address:    pair.Address,
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	if s.asset.IsToken() {
		return nil, signing.NotSupported(chain.FamilyPolkadot, signing.OperationSignTransaction)
	}
	if keys.Sponsored() {
		return nil, signing.NewError(signing.CodeInvalidRequest, "polkadot transfers cannot name a fee payer")
	}
	if len(keys.Sender) != 32 { //nolint:mnd
		return nil, signing.NewError(signing.CodeKeyReconstruction, "sender key has %d bytes, want 32", len(keys.Sender))
	}

	pair, err := s.keyring(keys.Sender)
	if err != nil {
		return nil, err
	}

	dest, err := s.decodeAddress(req.To)
	if err != nil {
		return nil, err
	}

	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, signing.NewError(signing.CodeInvalidRequest, "amount must be positive")
	}

	runtime, err := s.node.Runtime(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := s.node.AccountNonce(ctx, pair.PublicKey)
	if err != nil {
		return nil, err
	}

	call, err := TransferCall(runtime.TransferCall, dest, amount)
	if err != nil {
		return nil, err
	}

	ext := types.NewExtrinsic(call)
	if err := ext.Sign(pair, SignatureOptions(runtime, nonce)); err != nil {
		return nil, signing.WrapError(err, signing.CodeSignatureValidation, "failed to sign extrinsic")
	}

	encoded, err := codec.EncodeToHex(ext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode extrinsic")
	}

	util.LogFromContext(ctx).Debug().
		Str("from", pair.Address).
		Uint32("nonce", nonce).
		Msg("Signed polkadot extrinsic")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), &SignedTx{
		Extrinsic: encoded,
		Nonce:     nonce,
		From:      pair.Address,
	}), nil
}

// TransferCall encodes Balances.transfer_keep_alive(dest, amount).
func TransferCall(idx types.CallIndex, dest []byte, amount *big.Int) (types.Call, error) {
	addr, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return types.Call{}, signing.WrapError(err, signing.CodeInvalidRequest, "invalid destination account")
	}

	args, err := codec.Encode(addr)
	if err != nil {
		return types.Call{}, errors.Wrap(err, "failed to encode destination")
	}
	value, err := codec.Encode(types.NewUCompact(amount))
	if err != nil {
		return types.Call{}, errors.Wrap(err, "failed to encode amount")
	}

	return types.Call{CallIndex: idx, Args: append(args, value...)}, nil
}

// SignatureOptions builds immortal signing options without a tip.
func SignatureOptions(rt *Runtime, nonce uint32) types.SignatureOptions {
	return types.SignatureOptions{
		BlockHash:          rt.GenesisHash,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        rt.GenesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(nonce)),
		SpecVersion:        rt.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rt.TransactionVersion,
	}
}

func (s *Strategy) keyring(secret []byte) (signature.KeyringPair, error) {
	pair, err := signature.KeyringPairFromSecret("0x"+hex.EncodeToString(secret), s.chain.SS58Prefix)
	if err != nil {
		return signature.KeyringPair{}, signing.WrapError(err, signing.CodeKeyReconstruction, "invalid sr25519 secret")
	}

	return pair, nil
}

func (s *Strategy) decodeAddress(addr string) ([]byte, error) {
	prefix, pub, err := subkey.SS58Decode(addr)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid ss58 address")
	}
	if prefix != s.chain.SS58Prefix {
		return nil, signing.NewError(signing.CodeInvalidRequest, "address prefix %d does not match network prefix %d", prefix, s.chain.SS58Prefix)
	}

	return pub, nil
}
