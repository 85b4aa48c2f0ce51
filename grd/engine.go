/*
engine.go - Full recalculation pipeline

PURPOSE:
  Runs the four components in data-dependency order over one Snapshot and
  returns every derived field plus a Patch naming the fields that differ
  from what the episode last persisted.

INVARIANTS:
  - Pure: the same snapshot always yields the same Result
  - Complete: every derived field is recomputed, never only the edited one
  - Total: missing reference data becomes zero/unclassified plus a Warning,
    never an error and never the previously stored value

ERRORS:
  Recalculate only fails on snapshots that are structurally broken (negative
  delay days, a rule that does not belong to the episode). Those are caller
  bugs, not data gaps.
*/
package grd

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
)

// Engine recalculates episodes. It holds only immutable configuration and is
// safe for concurrent use.
type Engine struct {
	Defaults Defaults
}

// NewEngine creates an engine with the given fallback defaults.
func NewEngine(defaults Defaults) *Engine {
	return &Engine{Defaults: defaults}
}

// Warning reports a gap in reference data that degraded a value.
type Warning struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of one recalculation.
type Result struct {
	Calculated Calculated
	Stay       Stay
	Tariff     Tariff
	Delay      DelayPayment
	Outlier    OutlierPayment
	Settlement Settlement
	Patch      Patch
	Warnings   []Warning
}

// Patch names the derived fields whose value changed.
type Patch struct {
	Changed []string
	Values  Calculated
}

func (p Patch) IsEmpty() bool { return len(p.Changed) == 0 }

// Recalculate runs the pipeline for one episode snapshot.
func (e *Engine) Recalculate(s Snapshot) (Result, error) {
	ep := s.Episode
	if ep.DelayDays < 0 {
		return Result{}, &generic.FieldError{Field: "delay_days", Message: "must not be negative"}
	}
	rule, err := ruleFor(ep, s.Rule)
	if err != nil {
		return Result{}, err
	}

	var r Result

	// Stay and tariff are independent of each other.
	r.Stay = ClassifyEpisode(ep, rule)
	r.Tariff = ResolveTariff(ep.AgreementCode, ep.GroupWeight, s.Prices)

	var basePrice *decimal.Decimal
	if r.Tariff.Found {
		price := r.Tariff.Price
		basePrice = &price
	}

	r.Delay = CalculateDelayPayment(DelayInput{
		Agreement:     ep.AgreementCode,
		DelayDays:     ep.DelayDays,
		AdmissionDate: ep.AdmissionDate,
		GroupWeight:   ep.GroupWeight,
		BasePrice:     basePrice,
		Rule:          rule,
		Prices:        s.Prices,
		Manual:        ep.ManualDelayPayment,
		Defaults:      e.Defaults,
	})
	r.Outlier = CalculateOutlierPayment(OutlierInput{
		Agreement:   ep.AgreementCode,
		Stay:        r.Stay,
		GroupWeight: ep.GroupWeight,
		BasePrice:   basePrice,
		Rule:        rule,
		Defaults:    e.Defaults,
	})
	r.Settlement = Aggregate(SettlementInput{
		GroupWeight:        ep.GroupWeight,
		BasePrice:          basePrice,
		TechnologyAmount:   ep.Technology.Amount,
		DelayPayment:       r.Delay.Amount,
		OutlierPayment:     r.Outlier.Amount,
		OutsideNormalGroup: ep.OutsideNormalGroup,
		Overrides:          ep.Overrides,
	})

	r.Calculated = Calculated{
		LengthOfStay:   r.Stay.LengthOfStay,
		Classification: r.Stay.Classification,
		BasePrice:      basePrice,
		GroupValue:     r.Settlement.GroupValue,
		DelayPayment:   r.Delay.Amount,
		OutlierPayment: r.Outlier.Amount,
		FinalAmount:    r.Settlement.FinalAmount,
	}
	r.Patch = Diff(ep.Calculated, r.Calculated)
	r.Warnings = warningsFor(ep, rule, r)
	return r, nil
}

// Apply returns a copy of the episode carrying the recalculated fields.
func (r Result) Apply(ep Episode) Episode {
	ep.Calculated = r.Calculated
	return ep
}

// ruleFor returns the rule to classify against, or nil when the episode has
// no GRD reference.
func ruleFor(ep Episode, rule *GrdRule) (*GrdRule, error) {
	if ep.GrdCode == nil || strings.TrimSpace(*ep.GrdCode) == "" || rule == nil {
		return nil, nil
	}
	if !strings.EqualFold(strings.TrimSpace(rule.Code), strings.TrimSpace(*ep.GrdCode)) {
		return nil, &generic.FieldError{
			Field:   "grd_code",
			Message: fmt.Sprintf("snapshot rule %q does not match episode grd %q", rule.Code, *ep.GrdCode),
		}
	}
	return rule, nil
}

// Diff lists the derived fields that differ between two calculations.
func Diff(before, after Calculated) Patch {
	p := Patch{Values: after}
	if before.LengthOfStay != after.LengthOfStay {
		p.Changed = append(p.Changed, FieldLengthOfStay)
	}
	if before.Classification != after.Classification {
		p.Changed = append(p.Changed, FieldClassification)
	}
	if !equalOptional(before.BasePrice, after.BasePrice) {
		p.Changed = append(p.Changed, FieldBasePrice)
	}
	if !before.GroupValue.Equal(after.GroupValue) {
		p.Changed = append(p.Changed, FieldGroupValue)
	}
	if !before.DelayPayment.Equal(after.DelayPayment) {
		p.Changed = append(p.Changed, FieldDelayPayment)
	}
	if !before.OutlierPayment.Equal(after.OutlierPayment) {
		p.Changed = append(p.Changed, FieldOutlierPayment)
	}
	if !before.FinalAmount.Equal(after.FinalAmount) {
		p.Changed = append(p.Changed, FieldFinalAmount)
	}
	return p
}

func equalOptional(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func warningsFor(ep Episode, rule *GrdRule, r Result) []Warning {
	var ws []Warning

	if ep.GrdCode == nil || strings.TrimSpace(*ep.GrdCode) == "" {
		ws = append(ws, Warning{Code: "missing_grd", Field: FieldClassification, Message: "episode has no GRD assigned"})
	} else if rule == nil {
		ws = append(ws, Warning{Code: "unknown_grd", Field: FieldClassification, Message: "GRD " + *ep.GrdCode + " not found in catalog"})
	} else if !r.Stay.Classification.IsClassified() {
		ws = append(ws, Warning{Code: "missing_cutoffs", Field: FieldClassification, Message: "GRD " + rule.Code + " has no cutoff points"})
	}

	if !r.Tariff.Found {
		ws = append(ws, Warning{Code: r.Tariff.Reason, Field: FieldBasePrice, Message: "no base price for agreement " + quoteOrEmpty(r.Tariff.Agreement)})
	}
	if r.Delay.Reason != "" && ep.DelayDays > 0 {
		ws = append(ws, Warning{Code: r.Delay.Reason, Field: FieldDelayPayment, Message: "delay payment fell back to " + string(r.Delay.Method)})
	}
	if r.Outlier.Applies && r.Outlier.Reason != "" {
		ws = append(ws, Warning{Code: r.Outlier.Reason, Field: FieldOutlierPayment, Message: "superior outlier payment could not be computed"})
	}
	for _, f := range r.Settlement.IgnoredOverrides {
		ws = append(ws, Warning{Code: "override_ignored", Field: f, Message: "override ignored: episode is inside the normal group"})
	}
	return ws
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}
