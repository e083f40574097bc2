// Package money normalizes currency amounts to two decimal places.
// All balances, fees, and prices in the engine flow through these helpers so
// that rounding happens exactly once per computed figure, half-up to cents.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNegativeAmount signals a currency amount below zero where only
// non-negative values are meaningful (credits, debits, prices).
var ErrNegativeAmount = errors.New("money: negative amount")

// Cents rounds d half-up to two decimal places.
// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts this engine deals in.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// NonNegative validates and normalizes an amount used for a balance mutation.
func NonNegative(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return Cents(d), nil
}

// ClampZero returns d rounded to cents, floored at zero. Used for totals
// that a discount could otherwise push negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	d = Cents(d)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
