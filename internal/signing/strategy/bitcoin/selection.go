package bitcoin

import (
	"sort"

	"github/chapool/tx-signer/internal/signing"
)

const (
	// DustThreshold is the smallest output worth creating, in satoshis.
	DustThreshold = 546

	inputVBytes   = 148
	outputVBytes  = 34
	overheadBytes = 10

	minRelayFeeRate = 1
)

// EstimateSize is the size estimate the fee is charged on.
func EstimateSize(inputs int, outputs int) int64 {
	return int64(inputs*inputVBytes + outputs*outputVBytes + overheadBytes)
}

// EstimateFee is feeRate × (inputs×148 + outputs×34 + 10).
func EstimateFee(feeRate int64, inputs int, outputs int) int64 {
	return feeRate * EstimateSize(inputs, outputs)
}

// Selection is the outcome of coin selection.
type Selection struct {
	Inputs  []UTXO
	Total   int64
	Amount  int64
	Fee     int64
	Change  int64
	Outputs int
	// TargetFee is the fee the requested rate asks for on the final size. Fee falls below it
	// only when dust change was folded into a fee short of the rate.
	TargetFee int64
}

// Underpaid reports whether the fee is below the requested rate.
func (s *Selection) Underpaid() bool {
	return s.Fee < s.TargetFee
}

// SelectCoins picks inputs first-fit in ascending (txid, vout) order until they cover amount plus
// the two-output fee, or every UTXO is used. Change below the dust threshold is folded into the fee
// and the change output dropped; the folded fee must still meet the minimum relay rate.
func SelectCoins(utxos []UTXO, amount int64, feeRate int64) (*Selection, error) {
	if amount < DustThreshold {
		return nil, signing.NewError(signing.CodeDustAmount, "amount %d is below the dust threshold of %d satoshis", amount, DustThreshold)
	}
	if feeRate < minRelayFeeRate {
		feeRate = minRelayFeeRate
	}

	ordered := make([]UTXO, len(utxos))
	copy(ordered, utxos)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].TxID != ordered[j].TxID {
			return ordered[i].TxID < ordered[j].TxID
		}

		return ordered[i].Vout < ordered[j].Vout
	})

	sel := &Selection{Amount: amount}
	for _, u := range ordered {
		sel.Inputs = append(sel.Inputs, u)
		sel.Total += u.Value

		if sel.Total >= amount+EstimateFee(feeRate, len(sel.Inputs), 2) {
			break
		}
	}

	if len(sel.Inputs) == 0 || sel.Total < amount {
		return nil, signing.NewError(signing.CodeInsufficientFunds, "balance %d is below amount %d", sel.Total, amount)
	}

	withChange := EstimateFee(feeRate, len(sel.Inputs), 2)
	if change := sel.Total - amount - withChange; change >= DustThreshold {
		sel.Fee = withChange
		sel.TargetFee = withChange
		sel.Change = change
		sel.Outputs = 2

		return sel, nil
	}

	sel.Outputs = 1
	sel.Fee = sel.Total - amount
	sel.TargetFee = EstimateFee(feeRate, len(sel.Inputs), 1)
	if floor := minRelayFeeRate * EstimateSize(len(sel.Inputs), 1); sel.Fee < floor {
		return nil, signing.NewError(signing.CodeInsufficientFunds,
			"balance %d cannot cover amount %d and the minimum fee %d", sel.Total, amount, floor)
	}

	return sel, nil
}
