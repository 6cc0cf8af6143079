// Package evm signs plain transactions for externally owned accounts.
//
// Nonces come from the node's pending transaction count, not from the nonce allocator:
// an EOA nonce has to match chain state. Concurrent requests for the same key can race.
package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

// SignedTx is the broadcast payload of one EOA transaction.
type SignedTx struct {
	RawTransaction string `json:"rawTransaction"`
	Hash           string `json:"hash"`
	From           string `json:"from"`
	Nonce          uint64 `json:"nonce"`
}

type Strategy struct {
	chain   chain.Descriptor
	asset   signing.Asset
	backend Backend
}

var _ signing.Strategy = (*Strategy)(nil)

// Factory dials the descriptor's endpoints.
func Factory(ctx context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	if env.Chain.ChainID <= 0 {
		return nil, signing.Configuration("network %s has no chain id", env.Chain.NetworkID)
	}

	client, err := Dial(ctx, env.Chain.RPCEndpoints, env.Options.RPCRetry, rpc.WithHTTPClient(env.HTTP()))
	if err != nil {
		return nil, err
	}

	return New(env.Chain, env.Asset, client), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, backend Backend) *Strategy {
	return &Strategy{
		chain:   descriptor,
		asset:   asset,
		backend: backend,
	}
}

// Close releases the node connections.
func (s *Strategy) Close() {
	if c, ok := s.backend.(signing.Closer); ok {
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
		PrivateKey: hexutil.Encode(raw),
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}

	call, err := TransferCall(req, s.asset, amount)
	if err != nil {
		return nil, err
	}

	signed, err := s.signCalls(ctx, keys.Sender, []Call{call})
	if err != nil {
		return nil, err
	}

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed[0]), nil
}

// SignContractTransaction signs each call as its own transaction with consecutive nonces.
func (s *Strategy) SignContractTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	calls, err := DecodeCalls(req.Calls)
	if err != nil {
		return nil, err
	}

	signed, err := s.signCalls(ctx, keys.Sender, calls)
	if err != nil {
		return nil, err
	}

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

// SignSwapTransaction signs the approvals followed by the swap. A Permit2 signature is spliced
// onto the swap calldata first.
func (s *Strategy) SignSwapTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	calls, err := DecodeCalls(req.Swap.Calls())
	if err != nil {
		return nil, err
	}

	if len(req.Swap.Permit2) > 0 {
		key, err := crypto.ToECDSA(keys.Sender)
		if err != nil {
			return nil, signing.WrapError(err, signing.CodeKeyReconstruction, "invalid sender key")
		}

		hash, err := HashTypedData(req.Swap.Permit2)
		if err != nil {
			return nil, err
		}

		sig, err := SignHash(key, hash)
		if err != nil {
			return nil, err
		}

		last := len(calls) - 1
		calls[last].Data = SplicePermit2Signature(calls[last].Data, sig)
	}

	signed, err := s.signCalls(ctx, keys.Sender, calls)
	if err != nil {
		return nil, err
	}

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

func (s *Strategy) signCalls(ctx context.Context, rawKey []byte, calls []Call) ([]*SignedTx, error) {
	key, err := crypto.ToECDSA(rawKey)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeKeyReconstruction, "invalid sender key")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}

	fees, err := SuggestFees(ctx, s.backend)
	if err != nil {
		return nil, err
	}

	// Estimation runs against current state, so a call relying on an earlier call of the same
	// batch (a swap after its approval) needs an explicit GasLimit.
	out := make([]*SignedTx, 0, len(calls))
	for i, c := range calls {
		gas, err := EstimateGas(ctx, s.backend, from, c)
		if err != nil {
			if i > 0 && !signing.IsRetryable(err) {
				return nil, signing.WrapError(err, signing.CodeInvalidRequest,
					"call "+strconv.Itoa(i)+" failed gas estimation ahead of the earlier calls in the batch; set gasLimit")
			}
			return nil, err
		}

		signed, err := s.sign(key, nonce+uint64(i), gas, fees, c)
		if err != nil {
			return nil, err
		}
		out = append(out, signed)
	}

	util.LogFromContext(ctx).Debug().
		Str("from", from.Hex()).
		Uint64("nonce", nonce).
		Int("transactions", len(out)).
		Bool("legacy", fees.Legacy()).
		Msg("Signed EVM transactions")

	return out, nil
}

//nolint:varnamelen
func (s *Strategy) sign(key *ecdsa.PrivateKey, nonce uint64, gas uint64, fees Fees, c Call) (*SignedTx, error) {
	chainID := big.NewInt(s.chain.ChainID)
	to := c.To

	var tx *types.Transaction
	if fees.Legacy() {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &to,
			Value:    c.Value,
			Data:     c.Data,
		})
	} else {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gas,
			To:        &to,
			Value:     c.Value,
			Data:      c.Data,
		})
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return &SignedTx{
		RawTransaction: hexutil.Encode(raw),
		Hash:           signedTx.Hash().Hex(),
		From:           crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Nonce:          nonce,
	}, nil
}

// Address returns the EOA address of a raw key.
func Address(rawKey []byte) (common.Address, error) {
	key, err := crypto.ToECDSA(rawKey)
	if err != nil {
		return common.Address{}, signing.WrapError(err, signing.CodeKeyReconstruction, "invalid key")
	}

	return crypto.PubkeyToAddress(key.PublicKey), nil
}
