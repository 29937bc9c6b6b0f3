// Package money holds the rounding rules shared by the fee catalog and the ledger engine.
// Amounts are whole currency units; fractional results are rounded half away from zero.
package money

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept on stored amounts.
const Places int32 = 0

var hundred = decimal.NewFromInt(100)

// ErrInvalid is returned by Parse for malformed or negative input.
var ErrInvalid = errors.New("invalid amount")

// Round rounds d to the stored precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns pct percent of base, unrounded.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// WithTax returns amount increased by taxPct percent, rounded.
func WithTax(amount, taxPct decimal.Decimal) decimal.Decimal {
	if taxPct.IsZero() {
		return Round(amount)
	}
	return Round(amount.Add(Percent(amount, taxPct)))
}

// RoundToUnit rounds d to the nearest multiple of unit. A non-positive unit falls back to Round.
func RoundToUnit(d, unit decimal.Decimal) decimal.Decimal {
	if !unit.IsPositive() {
		return Round(d)
	}
	return d.Div(unit).Round(0).Mul(unit)
}

// Clamp bounds d to [lo, hi]. A zero hi means no upper bound.
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if hi.IsPositive() && d.GreaterThan(hi) {
		return hi
	}
	return d
}

// Parse reads a non-negative amount such as "1200" or "1200.50".
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalid, "parsing %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Wrapf(ErrInvalid, "%q is negative", s)
	}
	return d, nil
}
