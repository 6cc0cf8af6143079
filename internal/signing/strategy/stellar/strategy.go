// Package stellar signs XLM and issued-asset payments through Horizon. An unfunded native destination
// gets a create-account operation instead of a payment. A FEE_PAYER wraps the signed transaction in a
// fee bump it signs itself.
package stellar

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	hprotocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

const (
	txTimeoutSeconds = 300

	// minCreateStroops is the base reserve needed to fund a new account (1 XLM).
	minCreateStroops = 10_000_000
)

// Horizon is the part of the Horizon API the strategy reads.
type Horizon interface {
	AccountDetail(request horizonclient.AccountRequest) (hprotocol.Account, error)
}

// SignedTx is the broadcast payload of a Stellar transaction.
type SignedTx struct {
	XDR     string `json:"xdr"`
	Hash    string `json:"hash"`
	FeeBump bool   `json:"feeBump"`
}

type Strategy struct {
	signing.Unsupported

	chain   chain.Descriptor
	asset   signing.Asset
	horizon Horizon
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(_ context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	if env.Chain.NetworkPassphrase == "" {
		return nil, signing.Configuration("network %s has no network passphrase", env.Chain.NetworkID)
	}

	url := env.Chain.PrimaryRPC()
	if url == "" {
		return nil, signing.Configuration("network %s has no horizon url", env.Chain.NetworkID)
	}

	client := &horizonclient.Client{
		HorizonURL: strings.TrimSuffix(url, "/") + "/",
		HTTP:       env.HTTP(),
	}

	return New(env.Chain, env.Asset, client), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, horizon Horizon) *Strategy {
	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilyStellar},
		chain:       descriptor,
		asset:       asset,
		horizon:     horizon,
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	kp, err := keypair.Random()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate keypair")
	}

	return &signing.Wallet{
		PrivateKey: kp.Seed(),
		Address:    kp.Address(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	sender, err := fullKeypair(keys.Sender, "sender")
	if err != nil {
		return nil, err
	}

	if _, err := keypair.ParseAddress(req.To); err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid stellar address")
	}

	stroops, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}
	if !stroops.IsInt64() || stroops.Int64() <= 0 {
		return nil, signing.NewError(signing.CodeInvalidRequest, "amount %s out of range", stroops)
	}

	source, err := s.account(ctx, sender.Address())
	if err != nil {
		if horizonclient.IsNotFoundError(errors.Cause(err)) {
			return nil, signing.NewError(signing.CodeInsufficientFunds, "source account %s is not funded", sender.Address())
		}
		return nil, err
	}

	destinationExists := true
	if _, err := s.account(ctx, req.To); err != nil {
		if !horizonclient.IsNotFoundError(errors.Cause(err)) {
			return nil, err
		}
		destinationExists = false
	}

	op, err := s.operation(req.To, stroops.Int64(), destinationExists)
	if err != nil {
		return nil, err
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
	}
	if req.Memo != "" {
		params.Memo = txnbuild.MemoText(req.Memo)
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "failed to build stellar transaction")
	}

	tx, err = tx.Sign(s.chain.NetworkPassphrase, sender)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign stellar transaction")
	}

	var signed *SignedTx
	if keys.Sponsored() {
		signed, err = s.feeBump(tx, keys.FeePayer)
	} else {
		signed, err = encode(tx, s.chain.NetworkPassphrase)
	}
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().
		Str("from", sender.Address()).
		Str("hash", signed.Hash).
		Bool("create_account", !destinationExists).
		Bool("fee_bump", signed.FeeBump).
		Msg("Signed stellar transaction")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

func (s *Strategy) operation(to string, stroops int64, destinationExists bool) (txnbuild.Operation, error) { //nolint:ireturn
	value := amount.StringFromInt64(stroops)

	if s.asset.IsToken() {
		if !destinationExists {
			return nil, signing.NewError(signing.CodeInvalidRequest, "destination %s does not exist and cannot receive %s", to, s.asset.Symbol)
		}
		if _, err := keypair.ParseAddress(s.asset.ContractAddress); err != nil {
			return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid asset issuer")
		}

		return &txnbuild.Payment{
			Destination: to,
			Amount:      value,
			Asset:       txnbuild.CreditAsset{Code: s.asset.Symbol, Issuer: s.asset.ContractAddress},
		}, nil
	}

	if !destinationExists {
		if stroops < minCreateStroops {
			return nil, signing.NewError(signing.CodeInvalidRequest, "creating account %s needs at least 1 XLM, got %s", to, value)
		}

		return &txnbuild.CreateAccount{Destination: to, Amount: value}, nil
	}

	return &txnbuild.Payment{Destination: to, Amount: value, Asset: txnbuild.NativeAsset{}}, nil
}

func (s *Strategy) feeBump(inner *txnbuild.Transaction, rawFeePayer []byte) (*SignedTx, error) {
	feePayer, err := fullKeypair(rawFeePayer, "fee payer")
	if err != nil {
		return nil, err
	}

	bump, err := txnbuild.NewFeeBumpTransaction(txnbuild.FeeBumpTransactionParams{
		Inner:      inner,
		FeeAccount: feePayer.Address(),
		BaseFee:    txnbuild.MinBaseFee * 2, //nolint:mnd
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build fee bump transaction")
	}

	bump, err = bump.Sign(s.chain.NetworkPassphrase, feePayer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign fee bump transaction")
	}

	xdr, err := bump.Base64()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode fee bump transaction")
	}

	hash, err := bump.HashHex(s.chain.NetworkPassphrase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash fee bump transaction")
	}

	return &SignedTx{XDR: xdr, Hash: hash, FeeBump: true}, nil
}

func (s *Strategy) account(ctx context.Context, id string) (*txnbuild.SimpleAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acc, err := s.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: id})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, errors.Wrapf(err, "account %s", id)
		}

		return nil, classify(err, "failed to load account "+id)
	}

	seq, err := acc.GetSequenceNumber()
	if err != nil {
		return nil, errors.Wrapf(err, "account %s has an invalid sequence", id)
	}

	return &txnbuild.SimpleAccount{AccountID: id, Sequence: seq}, nil
}

func classify(err error, msg string) error {
	var herr *horizonclient.Error
	if errors.As(err, &herr) {
		status := herr.Problem.Status
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
			return signing.WrapError(err, signing.CodeInvalidRequest, msg)
		}
	}

	return signing.Transient(err, msg)
}

func encode(tx *txnbuild.Transaction, passphrase string) (*SignedTx, error) {
	xdr, err := tx.Base64()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode stellar transaction")
	}

	hash, err := tx.HashHex(passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash stellar transaction")
	}

	return &SignedTx{XDR: xdr, Hash: hash}, nil
}

func fullKeypair(raw []byte, who string) (*keypair.Full, error) {
	if len(raw) != 32 { //nolint:mnd
		return nil, signing.NewError(signing.CodeKeyReconstruction, "%s key has %d bytes, want 32", who, len(raw))
	}

	var seed [32]byte
	copy(seed[:], raw)
	defer util.Wipe(seed[:])

	kp, err := keypair.FromRawSeed(seed)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeKeyReconstruction, "invalid "+who+" key")
	}

	return kp, nil
}
