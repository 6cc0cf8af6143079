package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	eip1559FeeMultiplier = 2
	gasHeadroomPercent   = 120
)

// Fees are the fee fields of a transaction. GasPrice is set only on chains without a base fee.
type Fees struct {
	TipCap   *big.Int
	FeeCap   *big.Int
	GasPrice *big.Int
}

func (f Fees) Legacy() bool {
	return f.GasPrice != nil
}

// SuggestFees prices a transaction at baseFee*2 + tip, or the node's gas price when the
// latest header carries no base fee.
func SuggestFees(ctx context.Context, b Backend) (Fees, error) {
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, err
	}

	if head.BaseFee == nil {
		price, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return Fees{}, err
		}

		return Fees{GasPrice: price}, nil
	}

	tip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return Fees{}, err
	}

	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(eip1559FeeMultiplier))
	feeCap.Add(feeCap, tip)

	return Fees{TipCap: tip, FeeCap: feeCap}, nil
}

// EstimateGas estimates c from sender and adds headroom.
func EstimateGas(ctx context.Context, b Backend, from common.Address, c Call) (uint64, error) {
	if c.GasLimit > 0 {
		return c.GasLimit, nil
	}

	to := c.To
	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: c.Value,
		Data:  c.Data,
	})
	if err != nil {
		return 0, err
	}

	return gas * gasHeadroomPercent / 100, nil
}
