package shared

import "github.com/shopspring/decimal"

const (
	// AmountScale is the minor unit precision of the ledger currency.
	AmountScale int32 = 2
	// RateScale is the number of decimal places kept on interest rates.
	RateScale int32 = 4
	// DaysInYear is the interest day-count basis.
	DaysInYear = 365
)

var hundred = decimal.NewFromInt(100)

// RoundAmount rounds half-up to the currency minor unit.
// decimal.Round rounds half away from zero, identical to half-up for the
// non-negative amounts the ledger stores.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// RoundRate normalises a rate to RateScale places.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RateScale)
}

// SimpleInterest returns principal * rate% * days / DaysInYear rounded to the minor unit.
func SimpleInterest(principal, ratePercent decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 || principal.Sign() <= 0 || ratePercent.Sign() <= 0 {
		return decimal.Zero
	}
	interest := principal.
		Mul(ratePercent).
		Mul(decimal.NewFromInt(int64(days))).
		Div(hundred.Mul(decimal.NewFromInt(DaysInYear)))
	return RoundAmount(interest)
}

// HasMinorUnitPrecision reports whether d carries no more than AmountScale decimals.
func HasMinorUnitPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}
