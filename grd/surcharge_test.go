package grd_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
)

func ch0041Prices() []grd.PriceEntry {
	return []grd.PriceEntry{
		ratePrice("rate-2024", "50000", generic.DatePtr(2024, time.January, 1), generic.DatePtr(2024, time.December, 31), created(time.January, 2)),
		ratePrice("rate-june", "52000", generic.DatePtr(2024, time.June, 1), generic.DatePtr(2024, time.June, 30), created(time.March, 1)),
		ratePrice("rate-2025", "55000", generic.DatePtr(2025, time.January, 1), nil, created(time.December, 15)),
		ratePrice("base", "1500000", nil, nil, created(time.December, 20)),
	}
}

// =============================================================================
// RESCUE DELAY
// =============================================================================

func TestDelayRate(t *testing.T) {
	prices := ch0041Prices()

	tests := []struct {
		name      string
		admission *time.Time
		want      string
		ok        bool
	}{
		{"inside the yearly range", generic.DatePtr(2024, time.February, 3), "50000", true},
		{"newer overlapping correction wins", generic.DatePtr(2024, time.June, 10), "52000", true},
		{"last day of range", ptrTime(time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC)), "50000", true},
		{"open-ended range", generic.DatePtr(2026, time.July, 1), "55000", true},
		{"before every range", generic.DatePtr(2023, time.July, 1), "0", false},
		{"no admission date", nil, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, ok := grd.DelayRate("ch0041", tt.admission, prices)
			assert.Equal(t, tt.ok, ok)
			assertDecimal(t, tt.want, rate)
		})
	}
}

func TestCalculateDelayPayment_DailyRate(t *testing.T) {
	// GIVEN: A CH0041 episode that waited 3 days, rate 50000 for its admission
	in := grd.DelayInput{
		Agreement:     grd.AgreementCH0041,
		DelayDays:     3,
		AdmissionDate: generic.DatePtr(2024, time.February, 3),
		Prices:        ch0041Prices(),
		Manual:        dec("1"),
	}

	// WHEN: The delay payment is computed
	p := grd.CalculateDelayPayment(in)

	// THEN: Days times rate, manual value ignored
	assertDecimal(t, "150000", p.Amount)
	assert.Equal(t, grd.DelayDailyRate, p.Method)
	require.NotNil(t, p.Rate)
	assertDecimal(t, "50000", *p.Rate)
}

func TestCalculateDelayPayment_NoRateFallsBackToManual(t *testing.T) {
	in := grd.DelayInput{
		Agreement:     grd.AgreementCH0041,
		DelayDays:     3,
		AdmissionDate: generic.DatePtr(2023, time.March, 1),
		Prices:        ch0041Prices(),
	}

	p := grd.CalculateDelayPayment(in)
	assertDecimal(t, "0", p.Amount)
	assert.Equal(t, grd.DelayNone, p.Method)
	assert.Equal(t, grd.ReasonNoDelayRate, p.Reason)

	in.Manual = dec("42000")
	p = grd.CalculateDelayPayment(in)
	assertDecimal(t, "42000", p.Amount)
	assert.Equal(t, grd.DelayManual, p.Method)
}

func TestCalculateDelayPayment_WeightFormula(t *testing.T) {
	rule := &grd.GrdRule{Code: "071012", UpperCutoff: dec("6"), Percentile75: dec("8")}

	tests := []struct {
		name     string
		rule     *grd.GrdRule
		defaults grd.Defaults
		want     string
		refDays  string
	}{
		{"p75 from the rule", rule, grd.StandardDefaults(), "27000", "8"},
		{"upper cutoff when p75 is missing", &grd.GrdRule{Code: "071012", UpperCutoff: dec("6")}, grd.StandardDefaults(), "36000", "6"},
		{"zero p75 counts as missing", &grd.GrdRule{Code: "071012", UpperCutoff: dec("6"), Percentile75: dec("0")}, grd.StandardDefaults(), "36000", "6"},
		{"configured default", &grd.GrdRule{Code: "071012"}, grd.Defaults{Percentile75: dec("4"), DivisorFloor: decimal.NewFromInt(1)}, "54000", "4"},
		{"divisor floor", nil, grd.StandardDefaults(), "216000", "1"},
		{"custom divisor floor", nil, grd.Defaults{DivisorFloor: decimal.NewFromInt(2)}, "108000", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := grd.CalculateDelayPayment(grd.DelayInput{
				Agreement:   "fns019",
				DelayDays:   2,
				GroupWeight: dec("1.2"),
				BasePrice:   dec("90000"),
				Rule:        tt.rule,
				Defaults:    tt.defaults,
			})

			assert.Equal(t, grd.DelayWeightFormula, p.Method)
			assertDecimal(t, tt.want, p.Amount)
			require.NotNil(t, p.ReferenceDays)
			assertDecimal(t, tt.refDays, *p.ReferenceDays)
		})
	}
}

func TestCalculateDelayPayment_WeightFormulaNeedsWeightAndPrice(t *testing.T) {
	p := grd.CalculateDelayPayment(grd.DelayInput{
		Agreement:   grd.AgreementFNS026,
		DelayDays:   2,
		GroupWeight: dec("1.2"),
		Manual:      dec("10000"),
	})

	assertDecimal(t, "10000", p.Amount)
	assert.Equal(t, grd.DelayManual, p.Method)
	assert.Equal(t, grd.ReasonNoWeightOrPrice, p.Reason)
}

func TestCalculateDelayPayment_NoDelayDays(t *testing.T) {
	p := grd.CalculateDelayPayment(grd.DelayInput{
		Agreement:     grd.AgreementCH0041,
		AdmissionDate: generic.DatePtr(2024, time.February, 3),
		Prices:        ch0041Prices(),
		Manual:        dec("7000"),
	})

	assertDecimal(t, "7000", p.Amount)
	assert.Equal(t, grd.DelayManual, p.Method)
	assert.Empty(t, p.Reason)
}

func TestCalculateDelayPayment_UnknownAgreement(t *testing.T) {
	p := grd.CalculateDelayPayment(grd.DelayInput{Agreement: "ISAPRE99", DelayDays: 4})

	assertDecimal(t, "0", p.Amount)
	assert.Equal(t, grd.ReasonNoDelayFormula, p.Reason)
}

// =============================================================================
// SUPERIOR OUTLIER
// =============================================================================

func outlierInput() grd.OutlierInput {
	return grd.OutlierInput{
		Agreement:   grd.AgreementFNS012,
		Stay:        grd.Stay{LengthOfStay: 20, Classification: grd.OutlierSuperior},
		GroupWeight: dec("2.0"),
		BasePrice:   dec("100000"),
		Rule:        outlierRule(),
		Defaults:    grd.StandardDefaults(),
	}
}

func TestCalculateOutlierPayment(t *testing.T) {
	p := grd.CalculateOutlierPayment(outlierInput())

	assert.True(t, p.Applies)
	assertDecimal(t, "15", p.GracePeriod)
	assertDecimal(t, "5", p.DaysPostGrace)
	assertDecimal(t, "8", p.ReferenceDays)
	assertDecimal(t, "125000", p.Amount)
}

func TestCalculateOutlierPayment_Fallbacks(t *testing.T) {
	t.Run("p50 from configuration", func(t *testing.T) {
		in := outlierInput()
		in.Rule.Percentile50 = nil
		in.Defaults.Percentile50 = dec("5")

		assertDecimal(t, "125000", grd.CalculateOutlierPayment(in).Amount)
	})

	t.Run("p50 unresolved", func(t *testing.T) {
		in := outlierInput()
		in.Rule.Percentile50 = nil

		p := grd.CalculateOutlierPayment(in)
		assert.True(t, p.Applies)
		assertDecimal(t, "0", p.Amount)
		assert.Equal(t, grd.ReasonMissingGracePoint, p.Reason)
	})

	t.Run("p75 falls back to upper cutoff", func(t *testing.T) {
		in := outlierInput()
		in.Rule.Percentile75 = nil

		p := grd.CalculateOutlierPayment(in)
		assertDecimal(t, "10", p.ReferenceDays)
		assertDecimal(t, "100000", p.Amount)
	})

	t.Run("no base price", func(t *testing.T) {
		in := outlierInput()
		in.BasePrice = nil

		p := grd.CalculateOutlierPayment(in)
		assertDecimal(t, "0", p.Amount)
		assert.Equal(t, grd.ReasonNoWeightOrPrice, p.Reason)
	})
}

func TestCalculateOutlierPayment_NotApplicable(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*grd.OutlierInput)
	}{
		{"other agreement", func(in *grd.OutlierInput) { in.Agreement = grd.AgreementFNS019 }},
		{"flat agreement", func(in *grd.OutlierInput) { in.Agreement = grd.AgreementCH0041 }},
		{"inlier", func(in *grd.OutlierInput) { in.Stay.Classification = grd.Inlier }},
		{"inferior outlier", func(in *grd.OutlierInput) { in.Stay.Classification = grd.OutlierInferior }},
		{"unclassified", func(in *grd.OutlierInput) { in.Stay.Classification = grd.Unclassified }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := outlierInput()
			tt.modify(&in)

			p := grd.CalculateOutlierPayment(in)
			assert.False(t, p.Applies)
			assertDecimal(t, "0", p.Amount)
		})
	}
}

func TestCalculateOutlierPayment_WithinGrace(t *testing.T) {
	in := outlierInput()
	in.Stay.LengthOfStay = 15

	p := grd.CalculateOutlierPayment(in)

	assert.True(t, p.Applies)
	assertDecimal(t, "0", p.DaysPostGrace)
	assertDecimal(t, "0", p.Amount)
	assert.Empty(t, p.Reason)
}

func ptrTime(t time.Time) *time.Time { return &t }
