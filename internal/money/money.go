// Package money holds the fixed-point arithmetic rules for contract amounts.
//
// Every currency is treated as having two minor-unit digits, VND included.
// Rounding is half-up on the absolute value, which is what decimal.Round does.
package money

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits kept for every currency.
const Scale int32 = 2

// Tolerance is the largest difference accepted between a supplied amount and
// its recomputed value.
var Tolerance = decimal.New(1, -Scale)

var hundred = decimal.NewFromInt(100)

var Currencies = map[string]bool{"USD": true, "VND": true, "EUR": true, "GBP": true}

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Extend returns round(quantity * unitPrice).
func Extend(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(quantity.Mul(unitPrice))
}

// Percent returns round(amount * pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Retention splits a certified amount into the withheld part and the part
// payable now. The two always sum back to amount exactly.
func Retention(amount, pct decimal.Decimal) (retained, payable decimal.Decimal) {
	retained = Percent(amount, pct)
	payable = amount.Sub(retained)
	return retained, payable
}

// Coalesce returns the first valid value, or zero.
func Coalesce(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}

func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func ValidPercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

func Null(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
