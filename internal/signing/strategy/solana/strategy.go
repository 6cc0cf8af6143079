// Package solana signs SOL and SPL token transfers. A FEE_PAYER signer, when present, pays the fee and
// any associated token account creation, and signs the same message as the sender.
package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
	"github/chapool/tx-signer/internal/util/retry"
)

// RPC is the part of the Solana JSON-RPC API the strategy reads.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// SignedTx is the broadcast payload of a Solana transaction.
type SignedTx struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
	FeePayer    string `json:"feePayer"`
}

type Strategy struct {
	signing.Unsupported

	chain  chain.Descriptor
	asset  signing.Asset
	rpc    RPC
	policy retry.Policy
}

var _ signing.Strategy = (*Strategy)(nil)

func Factory(_ context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	url := env.Chain.PrimaryRPC()
	if url == "" {
		return nil, signing.Configuration("network %s has no solana rpc endpoint", env.Chain.NetworkID)
	}

	return New(env.Chain, env.Asset, rpc.New(url), env.Options.RPCRetry), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, client RPC, policy retry.Policy) *Strategy {
	return &Strategy{
		Unsupported: signing.Unsupported{Family: chain.FamilySolana},
		chain:       descriptor,
		asset:       asset,
		rpc:         client,
		policy:      policy,
	}
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	w := solana.NewWallet()
	defer util.Wipe(w.PrivateKey)

	return &signing.Wallet{
		PrivateKey: w.PrivateKey.String(),
		Address:    w.PublicKey().String(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	sender, err := privateKey(keys.Sender, "sender")
	if err != nil {
		return nil, err
	}
	defer util.Wipe(sender)

	payer := sender
	if keys.Sponsored() {
		payer, err = privateKey(keys.FeePayer, "fee payer")
		if err != nil {
			return nil, err
		}
		defer util.Wipe(payer)
	}

	to, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid solana address")
	}

	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}
	if !amount.IsUint64() {
		return nil, signing.NewError(signing.CodeInvalidRequest, "amount %s exceeds the u64 range", amount)
	}

	var instructions []solana.Instruction
	if s.asset.IsToken() {
		instructions, err = s.tokenTransfer(ctx, sender.PublicKey(), payer.PublicKey(), to, amount.Uint64())
		if err != nil {
			return nil, err
		}
	} else {
		instructions = []solana.Instruction{
			system.NewTransferInstruction(amount.Uint64(), sender.PublicKey(), to).Build(),
		}
	}

	if req.Memo != "" {
		instructions = append(instructions, solana.NewInstruction(
			solana.MemoProgramID,
			solana.AccountMetaSlice{solana.Meta(sender.PublicKey()).SIGNER()},
			[]byte(req.Memo),
		))
	}

	blockhash, err := retry.Value(ctx, s.policy, func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return nil, signing.Transient(err, "failed to fetch latest blockhash")
	}
	if blockhash == nil || blockhash.Value == nil {
		return nil, signing.NewError(signing.CodeTransientRPC, "node returned no blockhash")
	}

	signed, err := Sign(instructions, blockhash.Value.Blockhash, payer, sender)
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().
		Str("from", sender.PublicKey().String()).
		Str("fee_payer", signed.FeePayer).
		Str("signature", signed.Signature).
		Msg("Signed solana transaction")

	return signing.NewRPCEnvelope(req.TransactionID, s.chain.PrimaryRPC(), signed), nil
}

// tokenTransfer moves amount between the associated token accounts of from and to,
// creating the recipient's account first when it does not exist.
func (s *Strategy) tokenTransfer(ctx context.Context, from, payer, to solana.PublicKey, amount uint64) ([]solana.Instruction, error) {
	mint, err := solana.PublicKeyFromBase58(s.asset.ContractAddress)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "invalid token mint")
	}
	if s.asset.Decimals > 255 { //nolint:mnd
		return nil, signing.NewError(signing.CodeInvalidRequest, "token decimals %d out of range", s.asset.Decimals)
	}

	source, _, err := solana.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive source token account")
	}
	destination, _, err := solana.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive destination token account")
	}

	exists, err := s.accountExists(ctx, destination)
	if err != nil {
		return nil, err
	}

	var out []solana.Instruction
	if !exists {
		out = append(out, associatedtokenaccount.NewCreateInstruction(payer, to, mint).Build())
	}

	out = append(out, token.NewTransferCheckedInstruction(
		amount,
		uint8(s.asset.Decimals), //nolint:gosec
		source,
		mint,
		destination,
		from,
		nil,
	).Build())

	return out, nil
}

func (s *Strategy) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.rpc.GetAccountInfo(ctx, account)
		if errors.Is(err, rpc.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rpc.ErrNotFound):
		return false, nil
	default:
		return false, signing.Transient(err, "failed to look up token account "+account.String())
	}
}

// Sign builds one message paid by payer and has every distinct signer sign it.
func Sign(instructions []solana.Instruction, blockhash solana.Hash, payer solana.PrivateKey, signers ...solana.PrivateKey) (*SignedTx, error) {
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build solana transaction")
	}

	keys := map[solana.PublicKey]solana.PrivateKey{payer.PublicKey(): payer}
	for _, k := range signers {
		keys[k.PublicKey()] = k
	}

	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if k, ok := keys[pub]; ok {
			return &k
		}
		return nil
	}); err != nil {
		return nil, signing.WrapError(err, signing.CodeSignatureValidation, "failed to sign solana transaction")
	}

	if err := tx.VerifySignatures(); err != nil {
		return nil, signing.WrapError(err, signing.CodeSignatureValidation, "solana signatures do not verify")
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode solana transaction")
	}

	return &SignedTx{
		Transaction: encoded,
		Signature:   tx.Signatures[0].String(),
		FeePayer:    payer.PublicKey().String(),
	}, nil
}

func privateKey(raw []byte, who string) (solana.PrivateKey, error) {
	key, err := signing.Ed25519Key(raw, who)
	if err != nil {
		return nil, err
	}

	return solana.PrivateKey(key), nil
}
