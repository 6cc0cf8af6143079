package ton

import (
	"crypto/ed25519"
	"math/big"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	opJettonTransfer = 0x0f8a7ea5

	// sendMode pays fees separately and ignores action errors.
	sendMode = 3
)

// Transfer is one outgoing internal message.
type Transfer struct {
	To     *address.Address
	Amount *big.Int
	Bounce bool
	Body   *cell.Cell
}

// JettonTransferBody builds a TEP-74 transfer to the sender's jetton wallet.
func JettonTransferBody(queryID uint64, amount *big.Int, to *address.Address, responseTo *address.Address, forwardTON *big.Int, comment *cell.Cell) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(opJettonTransfer, 32).
		MustStoreUInt(queryID, 64).
		MustStoreBigCoins(amount).
		MustStoreAddr(to).
		MustStoreAddr(responseTo).
		MustStoreBoolBit(false).
		MustStoreBigCoins(forwardTON)

	if comment == nil {
		return b.MustStoreBoolBit(false).EndCell()
	}

	return b.MustStoreBoolBit(true).MustStoreRef(comment).EndCell()
}

// ExternalV4R2 builds and signs the external message of a v4r2 wallet.
// The state init is attached when the wallet is not deployed yet.
func ExternalV4R2(key ed25519.PrivateKey, subwallet uint32, seqno uint32, validUntil uint32, deployed bool, transfers []Transfer) (*cell.Cell, *address.Address, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, nil, errors.New("unexpected public key type")
	}

	from, err := wallet.AddressFromPubKey(pub, wallet.V4R2, subwallet)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to derive wallet address")
	}

	payload := cell.BeginCell().
		MustStoreUInt(uint64(subwallet), 32).
		MustStoreUInt(uint64(validUntil), 32).
		MustStoreUInt(uint64(seqno), 32).
		MustStoreUInt(0, 8)

	for _, t := range transfers {
		msg, err := tlb.ToCell(&tlb.InternalMessage{
			IHRDisabled: true,
			Bounce:      t.Bounce,
			DstAddr:     t.To,
			Amount:      tlb.FromNanoTON(t.Amount),
			Body:        t.Body,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to serialize internal message")
		}

		payload.MustStoreUInt(sendMode, 8).MustStoreRef(msg)
	}

	sig := ed25519.Sign(key, payload.EndCell().Hash())
	body := cell.BeginCell().MustStoreSlice(sig, 512).MustStoreBuilder(payload).EndCell()

	ext := &tlb.ExternalMessage{
		DstAddr: from,
		Body:    body,
	}
	if !deployed {
		ext.StateInit, err = wallet.GetStateInit(pub, wallet.V4R2, subwallet)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to build wallet state init")
		}
	}

	c, err := tlb.ToCell(ext)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to serialize external message")
	}

	return c, from, nil
}
