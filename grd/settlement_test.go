package grd_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/grd-engine/grd"
)

func settlementInput() grd.SettlementInput {
	return grd.SettlementInput{
		GroupWeight:      dec("2.0"),
		BasePrice:        dec("100000"),
		TechnologyAmount: dec("35000"),
		DelayPayment:     decimal.RequireFromString("10000"),
		OutlierPayment:   decimal.RequireFromString("125000"),
	}
}

func TestAggregate(t *testing.T) {
	s := grd.Aggregate(settlementInput())

	assertDecimal(t, "200000", s.GroupValue)
	assertDecimal(t, "370000", s.FinalAmount)
	assert.Empty(t, s.IgnoredOverrides)
}

func TestAggregate_AbsentValuesCountAsZero(t *testing.T) {
	in := settlementInput()
	in.BasePrice = nil
	in.TechnologyAmount = nil

	s := grd.Aggregate(in)

	assertDecimal(t, "0", s.GroupValue)
	assertDecimal(t, "135000", s.FinalAmount)
}

func TestAggregate_Overrides(t *testing.T) {
	tests := []struct {
		name      string
		outside   bool
		overrides grd.Overrides
		group     string
		final     string
		ignored   []string
	}{
		{
			name:      "final override ignored inside normal group",
			overrides: grd.Overrides{FinalAmount: dec("999")},
			group:     "200000",
			final:     "370000",
			ignored:   []string{grd.FieldFinalAmount},
		},
		{
			name:      "both overrides ignored inside normal group",
			overrides: grd.Overrides{GroupValue: dec("1"), FinalAmount: dec("999")},
			group:     "200000",
			final:     "370000",
			ignored:   []string{grd.FieldGroupValue, grd.FieldFinalAmount},
		},
		{
			name:      "group override feeds the final sum",
			outside:   true,
			overrides: grd.Overrides{GroupValue: dec("500000")},
			group:     "500000",
			final:     "670000",
		},
		{
			name:      "final override replaces the sum",
			outside:   true,
			overrides: grd.Overrides{GroupValue: dec("500000"), FinalAmount: dec("620000")},
			group:     "500000",
			final:     "620000",
		},
		{
			name:    "outside normal group without overrides",
			outside: true,
			group:   "200000",
			final:   "370000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := settlementInput()
			in.OutsideNormalGroup = tt.outside
			in.Overrides = tt.overrides

			s := grd.Aggregate(in)

			assertDecimal(t, tt.group, s.GroupValue)
			assertDecimal(t, tt.final, s.FinalAmount)
			assert.Equal(t, tt.ignored, s.IgnoredOverrides)
			assert.Equal(t, tt.outside && tt.overrides.GroupValue != nil, s.GroupValueOverridden)
			assert.Equal(t, tt.outside && tt.overrides.FinalAmount != nil, s.FinalAmountOverridden)
		})
	}
}
