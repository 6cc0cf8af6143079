// Package sui signs SUI and coin transfers as programmable transactions. A FEE_PAYER signer
// sponsors gas and signs the same transaction bytes as the sender.
package sui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"sort"

	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

const defaultGasBudget = 20_000_000

// SignedTx is the sui_executeTransactionBlock payload.
type SignedTx struct {
	TxBytes    string   `json:"txBytes"`
	Signatures []string `json:"signatures"`
	Digest     string   `json:"digest"`
}

type Strategy struct {
	signing.Unsupported

	chain     chain.Descriptor
	asset     signing.Asset
	rpc       RPC
	gasBudget uint64
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(ctx context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	url := env.Chain.PrimaryRPC()
	if url == "" {
		return nil, signing.Configuration("network %s has no sui rpc endpoint", env.Chain.NetworkID)
	}

	client, err := Dial(ctx, url, env.HTTP(), env.Options.RPCRetry)
	if err != nil {
		return nil, err
	}

	return New(env.Chain, env.Asset, client), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, client RPC) *Strategy {
	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilySui},
		chain:       descriptor,
		asset:       asset,
		rpc:         client,
		gasBudget:   defaultGasBudget,
	}
}

func (s *Strategy) Close() {
	if c, ok := s.rpc.(signing.Closer); ok {
		c.Close()
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 key")
	}
	defer util.Wipe(key)

	return &signing.Wallet{
		PrivateKey: hex.EncodeToString(key.Seed()),
		Address:    AddressOf(pub).String(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	senderKey, err := signing.Ed25519Key(keys.Sender, "sender")
	if err != nil {
		return nil, err
	}
	defer util.Wipe(senderKey)
	sender := AddressOf(senderKey.Public().(ed25519.PublicKey)) //nolint:forcetypeassert

	var sponsorKey ed25519.PrivateKey
	gasOwner := sender
	if keys.Sponsored() {
		sponsorKey, err = signing.Ed25519Key(keys.FeePayer, "fee payer")
		if err != nil {
			return nil, err
		}
		defer util.Wipe(sponsorKey)
		gasOwner = AddressOf(sponsorKey.Public().(ed25519.PublicKey)) //nolint:forcetypeassert
	}

	to, err := ParseAddress(req.To)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid sui address")
	}

	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 || !amount.IsUint64() {
		return nil, signing.NewError(signing.CodeInvalidRequest, "amount %s is out of the u64 range", amount)
	}

	gasPrice, err := s.rpc.ReferenceGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	data := &TransactionData{
		Sender:    sender,
		GasOwner:  gasOwner,
		GasPrice:  gasPrice,
		GasBudget: s.gasBudget,
	}

	if !s.asset.IsToken() && !keys.Sponsored() {
		err = s.splitFromGas(ctx, data, to, amount.Uint64())
	} else {
		err = s.splitFromCoins(ctx, data, to, amount.Uint64())
	}
	if err != nil {
		return nil, err
	}

	txBytes := data.Marshal()

	signed := &SignedTx{
		TxBytes: base64.StdEncoding.EncodeToString(txBytes),
		Digest:  Digest(txBytes),
	}
	for _, key := range []ed25519.PrivateKey{senderKey, sponsorKey} {
		if key == nil {
			continue
		}
		sig, err := Sign(key, txBytes)
		if err != nil {
			return nil, signing.WrapError(err, signing.CodeSignatureValidation, "failed to sign sui transaction")
		}
		signed.Signatures = append(signed.Signatures, sig)
	}

	util.LogFromContext(ctx).Debug().
		Str("from", sender.String()).
		Str("gas_owner", gasOwner.String()).
		Str("digest", signed.Digest).
		Msg("Signed sui transaction")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

// splitFromGas pays amount out of the sender's merged gas coin.
func (s *Strategy) splitFromGas(ctx context.Context, data *TransactionData, to Address, amount uint64) error {
	if amount > ^uint64(0)-data.GasBudget {
		return signing.NewError(signing.CodeInvalidRequest, "amount %d leaves no room for gas", amount)
	}

	payment, err := s.selectCoins(ctx, data.Sender, NativeCoinType, amount+data.GasBudget)
	if err != nil {
		return err
	}

	data.GasPayment = payment
	data.Inputs = []CallArg{PureU64(amount), PureAddress(to)}
	data.Commands = []Command{
		SplitCoins{Coin: GasCoin(), Amounts: []Argument{Input(0)}},
		TransferObjects{Objects: []Argument{NestedResult(0, 0)}, Address: Input(1)},
	}

	return nil
}

// splitFromCoins merges the sender's coins of the asset type into the first one and splits amount
// from it. Gas is paid by the gas owner's SUI coins.
func (s *Strategy) splitFromCoins(ctx context.Context, data *TransactionData, to Address, amount uint64) error {
	coinType := NativeCoinType
	if s.asset.IsToken() {
		coinType = s.asset.ContractAddress
	}

	coins, err := s.selectCoins(ctx, data.Sender, coinType, amount)
	if err != nil {
		return err
	}

	gas, err := s.selectCoins(ctx, data.GasOwner, NativeCoinType, data.GasBudget)
	if err != nil {
		return err
	}
	data.GasPayment = gas

	for _, c := range coins {
		data.Inputs = append(data.Inputs, OwnedObject(c))
	}
	amountArg := Input(uint16(len(data.Inputs))) //nolint:gosec
	data.Inputs = append(data.Inputs, PureU64(amount))
	recipientArg := Input(uint16(len(data.Inputs))) //nolint:gosec
	data.Inputs = append(data.Inputs, PureAddress(to))

	if len(coins) > 1 {
		sources := make([]Argument, 0, len(coins)-1)
		for i := 1; i < len(coins); i++ {
			sources = append(sources, Input(uint16(i))) //nolint:gosec
		}
		data.Commands = append(data.Commands, MergeCoins{Destination: Input(0), Sources: sources})
	}

	split := uint16(len(data.Commands)) //nolint:gosec
	data.Commands = append(data.Commands,
		SplitCoins{Coin: Input(0), Amounts: []Argument{amountArg}},
		TransferObjects{Objects: []Argument{NestedResult(split, 0)}, Address: recipientArg},
	)

	return nil
}

// selectCoins picks coins in ascending object id order until target is covered.
func (s *Strategy) selectCoins(ctx context.Context, owner Address, coinType string, target uint64) ([]ObjectRef, error) {
	coins, err := s.rpc.Coins(ctx, owner, coinType)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		ref     ObjectRef
		balance uint64
	}

	candidates := make([]candidate, 0, len(coins))
	for _, c := range coins {
		ref, err := c.Ref()
		if err != nil {
			return nil, signing.Transient(err, "node returned a malformed coin")
		}
		balance, err := c.Amount()
		if err != nil {
			return nil, signing.Transient(err, "node returned a malformed coin")
		}
		candidates = append(candidates, candidate{ref: ref, balance: balance})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].ref.ID[:], candidates[j].ref.ID[:]) < 0
	})

	var (
		out   []ObjectRef
		total uint64
	)
	for _, c := range candidates {
		out = append(out, c.ref)
		total += c.balance
		if total >= target {
			return out, nil
		}
	}

	return nil, signing.NewError(signing.CodeInsufficientFunds, "%s holds %d of %s, need %d", owner, total, coinType, target)
}
