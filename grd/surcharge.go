/*
surcharge.go - Surcharge Calculator

PURPOSE:
  Computes the two add-on payments of an episode. Both are recomputed on
  every pipeline run and degrade to zero (or to the manually entered value)
  when reference data is missing, never to an error.

RESCUE-DELAY PAYMENT (days waited for transfer):
  DelayDays == 0           → manual value or 0
  CH0041                   → DelayDays × daily rate, where the rate is the
                             latest CH0041 quotation whose effective range
                             contains the admission date; no match → manual or 0
  FNS012 / FNS019 / FNS026 → (weight × basePrice / refDays75) × DelayDays;
                             no weight or price → manual or 0
  anything else            → manual value or 0

SUPERIOR-OUTLIER PAYMENT (FNS012 only, classification OutlierSuperior only):
  grace         = upperCutoff + p50
  daysPostGrace = max(0, LOS − grace)
  payment       = daysPostGrace × weight × basePrice / refDays75

REFERENCE VALUES (see Defaults):
  refDays75 = GRD p75 → GRD upperCutoff → Defaults.Percentile75 → DivisorFloor
  p50       = GRD p50 → Defaults.Percentile50 → unresolved (payment 0)
*/
package grd

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
)

// =============================================================================
// DEFAULTS - System-wide reference values, overridable from configuration
// =============================================================================

// Defaults are the system-wide fallbacks used when a GRD rule lacks a value.
type Defaults struct {
	// Percentile50 is used when the GRD has no 50th percentile stay length.
	Percentile50 *decimal.Decimal

	// Percentile75 is used when the GRD has neither a 75th percentile nor an
	// upper cutoff.
	Percentile75 *decimal.Decimal

	// DivisorFloor is the last resort divisor for refDays75.
	DivisorFloor decimal.Decimal
}

// DefaultDivisorFloor keeps refDays75 away from zero.
var DefaultDivisorFloor = decimal.NewFromInt(1)

// StandardDefaults has no configured percentiles and a divisor floor of 1.
func StandardDefaults() Defaults {
	return Defaults{DivisorFloor: DefaultDivisorFloor}
}

func (d Defaults) divisorFloor() decimal.Decimal {
	if d.DivisorFloor.IsPositive() {
		return d.DivisorFloor
	}
	return DefaultDivisorFloor
}

// ResolveReferenceDays75 returns the 75th percentile reference stay length.
// It always resolves to a positive value.
func ResolveReferenceDays75(rule *GrdRule, defaults Defaults) decimal.Decimal {
	var p75, upper *decimal.Decimal
	if rule != nil {
		p75, upper = rule.Percentile75, rule.UpperCutoff
	}
	days, _ := generic.FirstPresent(
		generic.PositiveDecimal(p75),
		generic.PositiveDecimal(upper),
		generic.PositiveDecimal(defaults.Percentile75),
		generic.Const(defaults.divisorFloor()),
	)
	return days
}

// ResolvePercentile50 returns the 50th percentile reference stay length, or
// false when neither the rule nor the defaults provide one.
func ResolvePercentile50(rule *GrdRule, defaults Defaults) (decimal.Decimal, bool) {
	var p50 *decimal.Decimal
	if rule != nil {
		p50 = rule.Percentile50
	}
	return generic.FirstPresent(
		generic.PositiveDecimal(p50),
		generic.PositiveDecimal(defaults.Percentile50),
	)
}

// =============================================================================
// RESCUE-DELAY PAYMENT
// =============================================================================

// DelayMethod records which branch produced a delay payment.
type DelayMethod string

const (
	DelayNone          DelayMethod = "none"
	DelayManual        DelayMethod = "manual"
	DelayDailyRate     DelayMethod = "daily_rate"
	DelayWeightFormula DelayMethod = "weight_formula"
)

// DelayInput is everything the rescue-delay formulas read.
type DelayInput struct {
	Agreement     string
	DelayDays     int
	AdmissionDate *time.Time
	GroupWeight   *decimal.Decimal
	BasePrice     *decimal.Decimal // nil when the tariff was not found
	Rule          *GrdRule
	Prices        []PriceEntry
	Manual        *decimal.Decimal
	Defaults      Defaults
}

// DelayPayment is the rescue-delay payment and how it was obtained.
type DelayPayment struct {
	Amount        decimal.Decimal
	Method        DelayMethod
	Rate          *decimal.Decimal // daily rate, for DelayDailyRate
	ReferenceDays *decimal.Decimal // refDays75, for DelayWeightFormula
	Reason        string           // why a formula fell back
}

// Reasons a delay formula fell back to the manual value.
const (
	ReasonNoDelayRate       = "no_delay_rate_for_admission"
	ReasonNoWeightOrPrice   = "missing_weight_or_price"
	ReasonNoDelayFormula    = "no_delay_formula_for_agreement"
	ReasonMissingGracePoint = "missing_upper_cutoff_or_p50"
)

// CalculateDelayPayment computes the rescue-delay payment.
func CalculateDelayPayment(in DelayInput) DelayPayment {
	if in.DelayDays <= 0 {
		return manualOrZero(in.Manual, "")
	}

	days := decimal.NewFromInt(int64(in.DelayDays))
	code := NormalizeAgreement(in.Agreement)

	switch {
	case code == AgreementCH0041:
		rate, ok := DelayRate(code, in.AdmissionDate, in.Prices)
		if !ok {
			return manualOrZero(in.Manual, ReasonNoDelayRate)
		}
		return DelayPayment{Amount: days.Mul(rate), Method: DelayDailyRate, Rate: &rate}

	case weightFormulaDelayAgreements[code]:
		if in.GroupWeight == nil || in.BasePrice == nil {
			return manualOrZero(in.Manual, ReasonNoWeightOrPrice)
		}
		ref := ResolveReferenceDays75(in.Rule, in.Defaults)
		groupValue := in.GroupWeight.Mul(*in.BasePrice)
		amount := groupValue.Div(ref).Mul(days)
		return DelayPayment{Amount: amount, Method: DelayWeightFormula, ReferenceDays: &ref}

	default:
		return manualOrZero(in.Manual, ReasonNoDelayFormula)
	}
}

// DelayRate returns the daily rescue-delay rate of an agreement for an
// admission date: the latest-created quotation carrying an effective range
// that contains the date. Quotations without any range are base prices and
// are never used as rates.
func DelayRate(agreement string, admission *time.Time, prices []PriceEntry) (decimal.Decimal, bool) {
	if admission == nil {
		return decimal.Zero, false
	}
	code := NormalizeAgreement(agreement)
	entry := latestEntry(prices, func(p PriceEntry) bool {
		return NormalizeAgreement(p.AgreementCode) == code &&
			!p.Effective.IsOpen() &&
			p.Effective.Contains(*admission)
	})
	if entry == nil || entry.Price.IsNegative() {
		return decimal.Zero, false
	}
	return entry.Price, true
}

func manualOrZero(manual *decimal.Decimal, reason string) DelayPayment {
	if manual != nil {
		return DelayPayment{Amount: *manual, Method: DelayManual, Reason: reason}
	}
	return DelayPayment{Amount: decimal.Zero, Method: DelayNone, Reason: reason}
}

// =============================================================================
// SUPERIOR-OUTLIER PAYMENT
// =============================================================================

// OutlierInput is everything the superior-outlier formula reads.
type OutlierInput struct {
	Agreement   string
	Stay        Stay
	GroupWeight *decimal.Decimal
	BasePrice   *decimal.Decimal
	Rule        *GrdRule
	Defaults    Defaults
}

// OutlierPayment is the superior-outlier payment with its intermediate terms.
type OutlierPayment struct {
	Amount        decimal.Decimal
	Applies       bool // FNS012 and OutlierSuperior
	GracePeriod   decimal.Decimal
	DaysPostGrace decimal.Decimal
	ReferenceDays decimal.Decimal
	Reason        string // why an applicable payment came out zero
}

// CalculateOutlierPayment computes the superior-outlier payment.
func CalculateOutlierPayment(in OutlierInput) OutlierPayment {
	out := OutlierPayment{Amount: decimal.Zero}

	if NormalizeAgreement(in.Agreement) != AgreementFNS012 || in.Stay.Classification != OutlierSuperior {
		return out
	}
	out.Applies = true

	if in.Rule == nil || in.Rule.UpperCutoff == nil {
		out.Reason = ReasonMissingGracePoint
		return out
	}
	p50, ok := ResolvePercentile50(in.Rule, in.Defaults)
	if !ok {
		out.Reason = ReasonMissingGracePoint
		return out
	}
	if in.GroupWeight == nil || in.BasePrice == nil {
		out.Reason = ReasonNoWeightOrPrice
		return out
	}

	out.GracePeriod = in.Rule.UpperCutoff.Add(p50)
	postGrace := decimal.NewFromInt(int64(in.Stay.LengthOfStay)).Sub(out.GracePeriod)
	if !postGrace.IsPositive() {
		out.DaysPostGrace = decimal.Zero
		return out
	}
	out.DaysPostGrace = postGrace
	out.ReferenceDays = ResolveReferenceDays75(in.Rule, in.Defaults)
	out.Amount = postGrace.Mul(*in.GroupWeight).Mul(*in.BasePrice).Div(out.ReferenceDays)
	return out
}
