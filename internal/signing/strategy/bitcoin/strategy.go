// Package bitcoin signs native P2WPKH transfers built as PSBTs from explorer UTXOs.
package bitcoin

import (
	"context"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

type Strategy struct {
	signing.Unsupported

	chain          chain.Descriptor
	asset          signing.Asset
	params         *chaincfg.Params
	explorer       Explorer
	broadcastURL   string
	defaultFeeRate int64
}

var _ signing.Strategy = (*Strategy)(nil)

// Factory requires an explorer URL and a known bitcoin_net.
func Factory(_ context.Context, env signing.Env) (signing.Strategy, error) { //nolint:ireturn
	if env.Chain.ExplorerURL == "" {
		return nil, signing.Configuration("network %s has no explorer url", env.Chain.NetworkID)
	}

	params, err := NetParams(env.Chain.BitcoinNet)
	if err != nil {
		return nil, err
	}

	explorer := NewRESTExplorer(env.Chain.ExplorerURL, env.HTTP(), env.Options.RPCRetry)

	return New(env.Chain, env.Asset, params, explorer, explorer.BroadcastURL(), env.Options.BitcoinDefaultFeeRate), nil
}

func New(descriptor chain.Descriptor, asset signing.Asset, params *chaincfg.Params, explorer Explorer, broadcastURL string, defaultFeeRate int64) *Strategy {
	return &Strategy{
		Unsupported:    signing.Unsupported{Family: chain.FamilyBitcoin},
		chain:          descriptor,
		asset:          asset,
		params:         params,
		explorer:       explorer,
		broadcastURL:   broadcastURL,
		defaultFeeRate: defaultFeeRate,
	}
}

// NetParams maps a catalog bitcoin_net value to chain parameters. Empty means mainnet.
func NetParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, signing.Configuration("unknown bitcoin network %q", name)
	}
}

// Address returns the P2WPKH address of pub.
func Address(pub *btcec.PublicKey, params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive p2wpkh address")
	}

	return addr, nil
}

func (s *Strategy) CreateWallet(context.Context) (*signing.Wallet, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	wif, err := btcutil.NewWIF(key, s.params, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode wif")
	}

	addr, err := Address(key.PubKey(), s.params)
	if err != nil {
		return nil, err
	}

	return &signing.Wallet{
		PrivateKey: wif.String(),
		Address:    addr.EncodeAddress(),
	}, nil
}

func (s *Strategy) SignTransaction(ctx context.Context, req *signing.Request, keys *signing.KeyMaterial) (*signing.Envelope, error) {
	if s.asset.IsToken() {
		return nil, signing.NewError(signing.CodeNotSupported, "bitcoin has no token transfers")
	}

	amount, err := req.BaseUnits(s.chain)
	if err != nil {
		return nil, err
	}
	if !amount.IsInt64() {
		return nil, signing.NewError(signing.CodeInvalidRequest, "amount %s exceeds the satoshi range", amount)
	}

	recipient, err := btcutil.DecodeAddress(req.To, s.params)
	if err != nil || !recipient.IsForNet(s.params) {
		return nil, signing.NewError(signing.CodeInvalidRequest, "invalid bitcoin address %q for %s", req.To, s.params.Name)
	}

	if len(keys.Sender) != btcec.PrivKeyBytesLen {
		return nil, signing.NewError(signing.CodeKeyReconstruction, "invalid sender key length %d", len(keys.Sender))
	}
	key, pub := btcec.PrivKeyFromBytes(keys.Sender)
	defer key.Zero()

	sender, err := Address(pub, s.params)
	if err != nil {
		return nil, err
	}

	utxos, err := s.explorer.UTXOs(ctx, sender.EncodeAddress())
	if err != nil {
		return nil, err
	}

	feeRate, err := s.explorer.FeeRate(ctx)
	if err != nil {
		if s.defaultFeeRate <= 0 {
			return nil, err
		}
		util.LogFromContext(ctx).Warn().Err(err).Int64("fee_rate", s.defaultFeeRate).Msg("Falling back to default bitcoin fee rate")
		feeRate = s.defaultFeeRate
	}

	sel, err := SelectCoins(utxos, amount.Int64(), feeRate)
	if err != nil {
		return nil, err
	}
	if sel.Underpaid() {
		util.LogFromContext(ctx).Warn().
			Int64("fee", sel.Fee).
			Int64("target_fee", sel.TargetFee).
			Int64("fee_rate", feeRate).
			Msg("Folded change leaves the fee below the requested rate")
	}

	packet, err := BuildPacket(sel, sender, recipient)
	if err != nil {
		return nil, err
	}

	tx, err := SignPacket(packet, pub, KeySigner(key))
	if err != nil {
		return nil, err
	}

	signed, err := Encode(packet, tx, sel.Fee)
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Debug().
		Str("from", sender.EncodeAddress()).
		Str("txid", signed.TxID).
		Int("inputs", len(sel.Inputs)).
		Int("outputs", sel.Outputs).
		Int64("fee", sel.Fee).
		Msg("Signed bitcoin transaction")

	return signing.NewRPCEnvelope(req.TransactionID, s.broadcastURL, signed), nil
}
