// Package tron signs TRX transfers, TRC-20 transfers and contract triggers.
// Transactions are built by the node over gRPC and signed locally over sha256(raw_data).
package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
	"google.golang.org/protobuf/proto"
)

const (
	trc20Transfer = "transfer(address,uint256)"

	defaultFeeLimitSun = 100_000_000
)

// SignedTx is the broadcast payload of a Tron transaction.
type SignedTx struct {
	TxID       string `json:"txID"`
	Hex        string `json:"hex"`
	RawDataHex string `json:"raw_data_hex"`
}

type Strategy struct {
	signing.Unsupported

	chain    chain.Descriptor
	asset    signing.Asset
	node     Node
	feeLimit int64
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(_ context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	addr := env.Chain.PrimaryRPC()
	if addr == "" {
		return nil, signing.Configuration("network %s has no tron grpc endpoint", env.Chain.NetworkID)
	}

	node, err := Dial(addr, env.Options.TronAPIKey)
	if err != nil {
		return nil, err
	}

	return New(env.Chain, env.Asset, node, env.Options.TronFeeLimitSun), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, node Node, feeLimit int64) *Strategy {
	if feeLimit <= 0 {
		feeLimit = defaultFeeLimitSun
	}

	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilyTron},
		chain:       descriptor,
		asset:       asset,
		node:        node,
		feeLimit:    feeLimit,
	}
}

func (s *Strategy) Close() {
	if c, ok := s.node.(signing.Closer); ok {
		c.Close()
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	raw := crypto.FromECDSA(key)
	defer util.Wipe(raw)

	return &signing.Wallet{
		PrivateKey: hex.EncodeToString(raw),
		Address:    address.PubkeyToAddress(key.PublicKey).String(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	key, from, err := senderKey(keys)
	if err != nil {
		return nil, err
	}

	if err := validateAddress("to", req.To); err != nil {
		return nil, err
	}

	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}

	var ext *core.Transaction
	if s.asset.IsToken() {
		if err := validateAddress("contractAddress", s.asset.ContractAddress); err != nil {
			return nil, err
		}

		params, err := json.Marshal([]map[string]string{
			{"address": req.To},
			{"uint256": amount.String()},
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode trc20 arguments")
		}

		built, err := build(ctx, "trc20 transfer", func() (*api.TransactionExtention, error) {
			return s.node.TriggerContract(from, s.asset.ContractAddress, trc20Transfer, string(params), s.feeLimit, 0, "", 0)
		})
		if err != nil {
			return nil, err
		}
		ext = built.GetTransaction()
	} else {
		if !amount.IsInt64() {
			return nil, signing.NewError(signing.CodeInvalidRequest, "amount %s exceeds the sun range", amount)
		}

		built, err := build(ctx, "trx transfer", func() (*api.TransactionExtention, error) {
			return s.node.Transfer(from, req.To, amount.Int64())
		})
		if err != nil {
			return nil, err
		}
		ext = built.GetTransaction()
	}

	signed, err := Sign(ext, key)
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().Str("from", from).Str("tx_id", signed.TxID).Bool("token", s.asset.IsToken()).Msg("Signed tron transaction")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

// SignContractTransaction triggers each call with its Method and JSON Params, one transaction per call.
func (s *Strategy) SignContractTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	key, from, err := senderKey(keys)
	if err != nil {
		return nil, err
	}

	out := make([]*SignedTx, 0, len(req.Calls))
	for i, c := range req.Calls {
		if c.Method == "" {
			return nil, signing.NewError(signing.CodeInvalidRequest, "call %d has no method", i)
		}
		if err := validateAddress("to", c.To); err != nil {
			return nil, err
		}

		value, err := signing.ParseBaseUnits(c.Value)
		if err != nil {
			return nil, err
		}
		if !value.IsInt64() {
			return nil, signing.NewError(signing.CodeInvalidRequest, "call %d value %s exceeds the sun range", i, value)
		}

		params := c.Params
		if params == "" {
			params = "[]"
		}

		built, err := build(ctx, "trigger "+c.Method, func() (*api.TransactionExtention, error) {
			return s.node.TriggerContract(from, c.To, c.Method, params, s.feeLimit, value.Int64(), "", 0)
		})
		if err != nil {
			return nil, err
		}

		signed, err := Sign(built.GetTransaction(), key)
		if err != nil {
			return nil, err
		}
		out = append(out, signed)
	}

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), out), nil
}

// Sign appends the signature over sha256(raw_data) and verifies it recovers to the signer.
func Sign(tx *core.Transaction, key *ecdsa.PrivateKey) (*SignedTx, error) {
	raw, err := proto.Marshal(tx.GetRawData())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal raw data")
	}

	hash := sha256.Sum256(raw)

	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil || address.PubkeyToAddress(*pub).String() != address.PubkeyToAddress(key.PublicKey).String() {
		return nil, signing.NewError(signing.CodeSignatureValidation, "tron signature does not recover to the signer")
	}

	tx.Signature = append(tx.Signature, sig)

	encoded, err := proto.Marshal(tx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal signed transaction")
	}

	return &SignedTx{
		TxID:       hex.EncodeToString(hash[:]),
		Hex:        hex.EncodeToString(encoded),
		RawDataHex: hex.EncodeToString(raw),
	}, nil
}

func senderKey(keys *signing.KeyMaterial) (*ecdsa.PrivateKey, string, error) {
	key, err := crypto.ToECDSA(keys.Sender)
	if err != nil {
		return nil, "", signing.WrapError(err, signing.CodeKeyReconstruction, "invalid sender key")
	}

	return key, address.PubkeyToAddress(key.PublicKey).String(), nil
}

func validateAddress(field string, s string) error {
	if !strings.HasPrefix(s, "T") {
		return signing.NewError(signing.CodeInvalidRequest, "%s %q is not a base58 tron address", field, s)
	}
	if _, err := address.Base58ToAddress(s); err != nil {
		return signing.WrapError(err, signing.CodeInvalidRequest, "invalid tron "+field)
	}

	return nil
}

func containsBalance(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "balance is not sufficient") || strings.Contains(msg, "no enough balance")
}
