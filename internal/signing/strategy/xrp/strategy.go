// Package xrp signs XRP Ledger Payment transactions, native or issued currency, with secp256k1 keys.
package xrp

import (
	"context"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

const (
	paymentType = 0

	tfFullyCanonicalSig = 0x80000000

	// ledgerWindow bounds how many ledgers the transaction stays valid for.
	ledgerWindow = 20

	// reserveDrops is the base reserve needed to fund a new account.
	reserveDrops = 1_000_000

	minFeeDrops = 10
)

// SignedTx is the broadcast payload of an XRP Ledger transaction.
type SignedTx struct {
	TxBlob string `json:"tx_blob"`
	Hash   string `json:"hash"`
}

type Strategy struct {
	signing.Unsupported

	chain  chain.Descriptor
	asset  signing.Asset
	ledger Ledger
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(_ context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	url := env.Chain.PrimaryRPC()
	if url == "" {
		return nil, signing.Configuration("network %s has no rippled endpoint", env.Chain.NetworkID)
	}

	return New(env.Chain, env.Asset, NewClient(url, env.HTTP(), env.Options.RPCRetry)), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, ledger Ledger) *Strategy {
	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilyXRP},
		chain:       descriptor,
		asset:       asset,
		ledger:      ledger,
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}
	defer key.Zero()

	raw := key.Serialize()
	defer util.Wipe(raw)

	return &signing.Wallet{
		PrivateKey: strings.ToUpper(hex.EncodeToString(raw)),
		Address:    EncodeAddress(AccountID(key.PubKey().SerializeCompressed())),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	if len(keys.Sender) != btcec.PrivKeyBytesLen {
		return nil, signing.NewError(signing.CodeKeyReconstruction, "invalid sender key length %d", len(keys.Sender))
	}
	key, pub := btcec.PrivKeyFromBytes(keys.Sender)
	defer key.Zero()

	pubBytes := pub.SerializeCompressed()
	account := AccountID(pubBytes)
	from := EncodeAddress(account)

	destination, err := DecodeAddress(req.To)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid xrp address")
	}

	amount, err := s.amount(req)
	if err != nil {
		return nil, err
	}

	sequence, err := s.ledger.AccountSequence(ctx, from)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, signing.NewError(signing.CodeInsufficientFunds, "source account %s is not funded", from)
		}
		return nil, err
	}

	if err := s.checkDestination(ctx, req); err != nil {
		return nil, err
	}

	current, err := s.ledger.CurrentLedger(ctx)
	if err != nil {
		return nil, err
	}

	fee, err := s.ledger.OpenLedgerFee(ctx)
	if err != nil {
		return nil, err
	}
	fee = max(fee, minFeeDrops)

	feeValue, err := DropsAmount(FieldFee, fee)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid fee")
	}

	tx := Object{
		UInt16(FieldTransactionType, paymentType),
		UInt32(FieldFlags, tfFullyCanonicalSig),
		UInt32(FieldSequence, sequence),
		UInt32(FieldLastLedgerSequence, current+ledgerWindow),
		amount,
		feeValue,
		Blob(FieldSigningPubKey, pubBytes),
		Account(FieldAccount, account),
		Account(FieldDestination, destination),
	}

	if req.Memo != "" {
		if tag, err := strconv.ParseUint(req.Memo, 10, 32); err == nil {
			tx = append(tx, UInt32(FieldDestinationTag, uint32(tag)))
		} else {
			tx = append(tx, Memos([]byte(req.Memo)))
		}
	}

	signed, err := Sign(tx, key)
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().
		Str("from", from).
		Uint32("sequence", sequence).
		Uint64("fee_drops", fee).
		Str("hash", signed.Hash).
		Msg("Signed xrp transaction")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

func (s *Strategy) amount(req *signing.Request) (Value, error) {
	if s.asset.IsToken() {
		issuer, err := DecodeAddress(s.asset.ContractAddress)
		if err != nil {
			return Value{}, signing.WrapError(err, signing.CodeInvalidRequest, "invalid issuer address")
		}

		v, err := IssuedAmount(FieldAmount, req.Amount, s.asset.Symbol, issuer)
		if err != nil {
			return Value{}, signing.WrapError(err, signing.CodeInvalidRequest, "invalid issued amount")
		}

		return v, nil
	}

	drops, err := req.BaseUnits(s.chain)
	if err != nil {
		return Value{}, err
	}
	if !drops.IsUint64() {
		return Value{}, signing.NewError(signing.CodeInvalidRequest, "amount %s out of range", drops)
	}

	v, err := DropsAmount(FieldAmount, drops.Uint64())
	if err != nil {
		return Value{}, signing.WrapError(err, signing.CodeInvalidRequest, "invalid amount")
	}

	return v, nil
}

// checkDestination rejects native payments too small to fund a missing destination.
func (s *Strategy) checkDestination(ctx context.Context, req *signing.Request) error {
	_, err := s.ledger.AccountSequence(ctx, req.To)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	if s.asset.IsToken() {
		return signing.NewError(signing.CodeInvalidRequest, "destination %s does not exist and cannot hold %s", req.To, s.asset.Symbol)
	}

	drops, err := req.BaseUnits(s.chain)
	if err != nil {
		return err
	}
	if drops.Cmp(big.NewInt(reserveDrops)) < 0 {
		return signing.NewError(signing.CodeInvalidRequest, "funding %s needs at least %d drops", req.To, reserveDrops)
	}

	return nil
}

// Sign adds the signature over the signing serialization and returns the blob and its id.
func Sign(tx Object, key *btcec.PrivateKey) (*SignedTx, error) {
	hash := SigningHash(tx)

	sig := ecdsa.Sign(key, hash)
	if !sig.Verify(hash, key.PubKey()) {
		return nil, signing.NewError(signing.CodeSignatureValidation, "xrp signature does not verify")
	}

	signed := append(Object{}, tx...)
	signed = append(signed, Blob(FieldTxnSignature, sig.Serialize()))
	blob := signed.Serialize()

	return &SignedTx{
		TxBlob: strings.ToUpper(hex.EncodeToString(blob)),
		Hash:   strings.ToUpper(hex.EncodeToString(SHA512Half(prefixTxID, blob))),
	}, nil
}

// SigningHash is SHA512Half("STX\0" || fields without TxnSignature).
func SigningHash(tx Object) []byte {
	return SHA512Half(prefixTxSign, tx.Serialize(FieldTxnSignature))
}
