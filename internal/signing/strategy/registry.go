// Package strategy lists the signing strategies compiled into the service.
package strategy

import (
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/strategy/bitcoin"
	"github/chapool/tx-signer/internal/signing/strategy/erc4337"
	"github/chapool/tx-signer/internal/signing/strategy/evm"
	"github/chapool/tx-signer/internal/signing/strategy/polkadot"
	"github/chapool/tx-signer/internal/signing/strategy/solana"
	"github/chapool/tx-signer/internal/signing/strategy/stellar"
	"github/chapool/tx-signer/internal/signing/strategy/sui"
	"github/chapool/tx-signer/internal/signing/strategy/ton"
	"github/chapool/tx-signer/internal/signing/strategy/tron"
	"github/chapool/tx-signer/internal/signing/strategy/xrp"
)

// Factories returns a fresh family to factory table.
func Factories() map[chain.Family]signing.Factory {
	return map[chain.Family]signing.Factory{
		chain.FamilyEVM:      evm.Factory,
		chain.FamilyERC4337:  erc4337.Factory,
		chain.FamilyBitcoin:  bitcoin.Factory,
		chain.FamilyTron:     tron.Factory,
		chain.FamilySolana:   solana.Factory,
		chain.FamilyStellar:  stellar.Factory,
		chain.FamilyXRP:      xrp.Factory,
		chain.FamilyTON:      ton.Factory,
		chain.FamilySui:      sui.Factory,
		chain.FamilyPolkadot: polkadot.Factory,
	}
}
