package domain

import "github.com/shopspring/decimal"

// MinorUnits is the number of decimal places kept for stored amounts.
const MinorUnits = 2

// RoundMoney rounds half away from zero to minor-unit precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// SplitFee computes the platform fee for amount at rate and the expert share.
// fee + payout == amount holds exactly for any amount with at most MinorUnits
// decimals because payout is taken as the remainder.
func SplitFee(amount, rate decimal.Decimal) (fee, payout decimal.Decimal) {
	fee = RoundMoney(amount.Mul(rate))
	payout = amount.Sub(fee)
	return fee, payout
}
