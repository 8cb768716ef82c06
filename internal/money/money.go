// Package money holds the fixed-point currency convention: every amount is a
// decimal rounded to two places at each computation step, and gateway amounts
// are integer minor units.
package money

import "github.com/shopspring/decimal"

const places = 2

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(places)
}

// LineTotal returns round2(price × qty).
func LineTotal(price decimal.Decimal, qty int) decimal.Decimal {
	return Round2(price.Mul(decimal.NewFromInt(int64(qty))))
}

// Percent returns round2(amount × rate).
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(rate))
}

// ToMinorUnits converts an amount to integer minor units (×100), truncating
// anything beyond two decimal places.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -places)
}

// MustParse parses a decimal literal and panics on malformed input. Intended
// for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
