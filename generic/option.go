/*
option.go - Ordered fallback lookups

PURPOSE:
  Reference values used by the surcharge formulas come from several places:
  the GRD record first, then system configuration, then a hard floor. This
  file is the single place where "try these sources in order" is expressed.

USAGE:
  days, ok := generic.FirstPresent(
      generic.PositiveDecimal(rule.Percentile75),
      generic.PositiveDecimal(rule.UpperCutoff),
      generic.PositiveDecimal(defaults.Percentile75),
      generic.Const(decimal.NewFromInt(1)),
  )

A Lookup returns (value, true) when its source has a usable value. The first
present value wins; later lookups are not evaluated.
*/
package generic

import "github.com/shopspring/decimal"

// Lookup is a lazily evaluated optional value.
type Lookup[T any] func() (T, bool)

// FirstPresent evaluates lookups in order and returns the first present value.
func FirstPresent[T any](lookups ...Lookup[T]) (T, bool) {
	for _, lookup := range lookups {
		if lookup == nil {
			continue
		}
		if v, ok := lookup(); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Const is a lookup that is always present.
func Const[T any](v T) Lookup[T] {
	return func() (T, bool) { return v, true }
}

// PositiveDecimal is present when d is non-nil and strictly greater than zero.
// Zero is treated as missing because every consumer divides by or adds
// reference stay lengths, where zero is never a meaningful value.
func PositiveDecimal(d *decimal.Decimal) Lookup[decimal.Decimal] {
	return func() (decimal.Decimal, bool) {
		if d == nil || !d.IsPositive() {
			return decimal.Zero, false
		}
		return *d, true
	}
}
