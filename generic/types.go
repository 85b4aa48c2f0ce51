/*
Package generic provides the domain-agnostic building blocks of the
reimbursement engine.

PURPOSE:
  This package contains the value types and helpers that the GRD engine is
  built from: boundary number conversion, calendar arithmetic, effective-date ranges,
  ordered fallback lookups and the shared error vocabulary. Nothing in here
  knows about agreements, cutoffs or episodes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Decimal helpers: Finite-number validation where floats enter the engine
  - Identifiers: Type-safe ids for episodes, patients and price entries

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift in money
  2. Type Safety: Strong typing for IDs prevents mixing episode/patient IDs
  3. No NaN: NaN and infinities are rejected before they become decimals

USAGE:
  weight, err := generic.OptionalDecimal("group_weight", body.GroupWeight)

SEE ALSO:
  - option.go: Ordered fallback lookups
  - period.go: Effective-date ranges
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOUNDARY NUMBERS - floats arriving from JSON/YAML become decimals here
// =============================================================================

// IsFinite reports whether f is neither NaN nor ±Inf.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// DecimalFromFloat converts a structurally required float into a decimal,
// rejecting NaN and infinities with a NonFiniteError naming the field.
func DecimalFromFloat(field string, f float64) (decimal.Decimal, error) {
	if !IsFinite(f) {
		return decimal.Zero, &NonFiniteError{Field: field, Value: f}
	}
	return decimal.NewFromFloat(f), nil
}

// OptionalDecimal converts a nullable float. nil stays nil.
func OptionalDecimal(field string, f *float64) (*decimal.Decimal, error) {
	if f == nil {
		return nil, nil
	}
	d, err := DecimalFromFloat(field, *f)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FloatPtr converts an optional decimal back to an optional float for DTOs.
func FloatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EpisodeID string
type PatientID string
type PriceEntryID string
