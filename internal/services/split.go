package services

import (
	"fmt"
	"math/big"
)

// DefaultFeePercent is the platform's cut of every settlement.
const DefaultFeePercent = 5

var oneHundred = big.NewInt(100)

// SplitResult is the exact division of a settlement total into the platform
// fee and the seller payout, in smallest token units.
type SplitResult struct {
	Total  *big.Int
	Fee    *big.Int
	Seller *big.Int
}

// Split computes fee = floor(total * feePercent / 100) and folds the entire
// division remainder into the seller amount, so Fee + Seller == Total holds
// for every input. A zero total is ErrEmptyBalance; negative totals cannot
// occur with balances read from the ledger.
func Split(total *big.Int, feePercent int) (SplitResult, error) {
	if total == nil || total.Sign() == 0 {
		return SplitResult{}, ErrEmptyBalance
	}
	if total.Sign() < 0 {
		return SplitResult{}, fmt.Errorf("negative settlement total %s", total)
	}
	if feePercent < 0 || feePercent > 100 {
		return SplitResult{}, fmt.Errorf("fee percent %d out of range", feePercent)
	}

	fee := new(big.Int).Mul(total, big.NewInt(int64(feePercent)))
	fee.Quo(fee, oneHundred)
	seller := new(big.Int).Sub(total, fee)

	return SplitResult{
		Total:  new(big.Int).Set(total),
		Fee:    fee,
		Seller: seller,
	}, nil
}
