package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitFeeTenPercent(t *testing.T) {
	fee, payout := SplitFee(decimal.RequireFromString("100.00"), decimal.RequireFromString("0.10"))
	assert.True(t, fee.Equal(decimal.RequireFromString("10.00")), "fee=%s", fee)
	assert.True(t, payout.Equal(decimal.RequireFromString("90.00")), "payout=%s", payout)
}

func TestSplitFeeRoundsToMinorUnits(t *testing.T) {
	fee, payout := SplitFee(decimal.RequireFromString("33.35"), decimal.RequireFromString("0.10"))
	assert.Equal(t, "3.34", fee.StringFixed(2))
	assert.Equal(t, "30.01", payout.StringFixed(2))
}

func TestFeeSplitSumsToAmount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("platform fee + expert payout == amount", prop.ForAll(
		func(cents int64, ratePct int) bool {
			amount := decimal.New(cents, -2)
			rate := decimal.New(int64(ratePct), -2)
			fee, payout := SplitFee(amount, rate)
			intent := PaymentIntent{Amount: amount, PlatformFee: fee}
			return fee.Add(payout).Equal(amount) &&
				intent.ExpertPayoutAmount().Equal(payout) &&
				fee.Exponent() >= -MinorUnits
		},
		gen.Int64Range(1, 100_000_000),
		gen.IntRange(0, 99),
	))

	properties.TestingRun(t)
}
