package grd

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTLEMENT AGGREGATOR
// =============================================================================

// SettlementInput is what the aggregator combines. Absent values count as 0.
type SettlementInput struct {
	GroupWeight        *decimal.Decimal
	BasePrice          *decimal.Decimal
	TechnologyAmount   *decimal.Decimal
	DelayPayment       decimal.Decimal
	OutlierPayment     decimal.Decimal
	OutsideNormalGroup bool
	Overrides          Overrides
}

// Settlement is the aggregated amount payable for an episode.
type Settlement struct {
	GroupValue  decimal.Decimal
	FinalAmount decimal.Decimal

	// Which values came from a manual override.
	GroupValueOverridden  bool
	FinalAmountOverridden bool

	// Override fields present in the input but ignored because the episode
	// is inside the normal group classification.
	IgnoredOverrides []string
}

// Aggregate combines group value and surcharges into the final amount.
//
// Overrides are honored only when OutsideNormalGroup is set; otherwise they
// are ignored and listed in IgnoredOverrides so callers can report it.
func Aggregate(in SettlementInput) Settlement {
	var s Settlement

	s.GroupValue = decimal.Zero
	if in.GroupWeight != nil && in.BasePrice != nil {
		s.GroupValue = in.GroupWeight.Mul(*in.BasePrice)
	}
	if in.Overrides.GroupValue != nil {
		if in.OutsideNormalGroup {
			s.GroupValue = *in.Overrides.GroupValue
			s.GroupValueOverridden = true
		} else {
			s.IgnoredOverrides = append(s.IgnoredOverrides, FieldGroupValue)
		}
	}

	s.FinalAmount = s.GroupValue.
		Add(valueOrZero(in.TechnologyAmount)).
		Add(in.OutlierPayment).
		Add(in.DelayPayment)
	if in.Overrides.FinalAmount != nil {
		if in.OutsideNormalGroup {
			s.FinalAmount = *in.Overrides.FinalAmount
			s.FinalAmountOverridden = true
		} else {
			s.IgnoredOverrides = append(s.IgnoredOverrides, FieldFinalAmount)
		}
	}

	return s
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
