/*
Package factory converts loosely-typed JSON records into the validated
domain model.

PURPOSE:
  The engine only ever sees typed grd.Episode / grd.GrdRule / grd.PriceEntry
  values. Everything that arrives as JSON (catalog imports, API payloads)
  passes through here first: numbers are checked for finiteness, dates are
  parsed, codes are normalized.

JSON SCHEMA (catalog):
  {
    "grd_rules": [
      {"code": "041013", "description": "Neumonia simple", "weight": 0.95,
       "lower_cutoff": 2, "upper_cutoff": 10, "percentile50": 5, "percentile75": 8}
    ],
    "prices": [
      {"agreement": "FNS012", "tier": "T1", "price": 1850000},
      {"agreement": "CH0041", "effective_start": "2024-01-01",
       "effective_end": "2024-12-31", "price": 50000}
    ]
  }

ERRORS:
  - generic.NonFiniteError for NaN/±Inf numbers
  - generic.FieldError for missing required fields and unparseable dates

USAGE:
  f := factory.NewCatalogFactory()
  catalog, err := f.ParseCatalog(data)
  summary, err := svc.ImportCatalog(ctx, catalog)

SEE ALSO:
  - grd/types.go: Target types
  - api/dto.go: Uses EpisodeJSON for request bodies
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog import.
type CatalogJSON struct {
	Rules  []GrdRuleJSON    `json:"grd_rules"`
	Prices []PriceEntryJSON `json:"prices"`
}

// GrdRuleJSON represents one GRD definition.
type GrdRuleJSON struct {
	Code         string   `json:"code"`
	Description  string   `json:"description,omitempty"`
	Weight       *float64 `json:"weight,omitempty"`
	LowerCutoff  *float64 `json:"lower_cutoff,omitempty"`
	UpperCutoff  *float64 `json:"upper_cutoff,omitempty"`
	Percentile50 *float64 `json:"percentile50,omitempty"`
	Percentile75 *float64 `json:"percentile75,omitempty"`
}

// PriceEntryJSON represents one agreement price quotation.
type PriceEntryJSON struct {
	ID             string   `json:"id,omitempty"`
	Agreement      string   `json:"agreement"`
	Tier           string   `json:"tier,omitempty"`
	EffectiveStart string   `json:"effective_start,omitempty"`
	EffectiveEnd   string   `json:"effective_end,omitempty"`
	Price          *float64 `json:"price"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

// TechnologyJSON represents the technology adjustment of an episode.
type TechnologyJSON struct {
	Flag   bool     `json:"flag"`
	Detail string   `json:"detail,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

// OverridesJSON represents manual settlement values.
type OverridesJSON struct {
	GroupValue  *float64 `json:"group_value,omitempty"`
	FinalAmount *float64 `json:"final_amount,omitempty"`
}

// EpisodeJSON represents a full episode (create / import).
type EpisodeJSON struct {
	ID                   string          `json:"id,omitempty"`
	PatientID            string          `json:"patient_id,omitempty"`
	AdmissionDate        string          `json:"admission_date,omitempty"`
	DischargeDate        string          `json:"discharge_date,omitempty"`
	GrdCode              string          `json:"grd_code,omitempty"`
	AgreementCode        string          `json:"agreement_code"`
	GroupWeight          *float64        `json:"group_weight,omitempty"`
	Technology           *TechnologyJSON `json:"technology,omitempty"`
	DelayDays            int             `json:"delay_days,omitempty"`
	ManualDelayPayment   *float64        `json:"manual_delay_payment,omitempty"`
	ManualOutlierPayment *float64        `json:"manual_outlier_payment,omitempty"`
	OutsideNormalGroup   bool            `json:"outside_normal_group,omitempty"`
	Overrides            *OverridesJSON  `json:"overrides,omitempty"`
	Validation           string          `json:"validation,omitempty"`
}

// NullableFloat is a patch number that tells an absent field from an
// explicit null. Set is true whenever the key was present.
type NullableFloat struct {
	Set   bool
	Value *float64
}

// Null returns a present field holding null.
func Null() NullableFloat { return NullableFloat{Set: true} }

// Float returns a present field holding f.
func Float(f float64) NullableFloat { return NullableFloat{Set: true, Value: &f} }

// UnmarshalJSON is only called for keys present in the payload, null included.
func (n *NullableFloat) UnmarshalJSON(data []byte) error {
	n.Set = true
	n.Value = nil
	if string(data) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	n.Value = &f
	return nil
}

func (n NullableFloat) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}

// EpisodePatchJSON represents a partial edit. Absent fields are untouched;
// null clears group_weight, manual_delay_payment and manual_outlier_payment.
// technology and overrides replace the whole object, so omitting one of
// their members clears it.
type EpisodePatchJSON struct {
	PatientID            *string         `json:"patient_id,omitempty"`
	AdmissionDate        *string         `json:"admission_date,omitempty"`
	DischargeDate        *string         `json:"discharge_date,omitempty"`
	GrdCode              *string         `json:"grd_code,omitempty"`
	AgreementCode        *string         `json:"agreement_code,omitempty"`
	GroupWeight          NullableFloat   `json:"group_weight"`
	Technology           *TechnologyJSON `json:"technology,omitempty"`
	DelayDays            *int            `json:"delay_days,omitempty"`
	ManualDelayPayment   NullableFloat   `json:"manual_delay_payment"`
	ManualOutlierPayment NullableFloat   `json:"manual_outlier_payment"`
	OutsideNormalGroup   *bool           `json:"outside_normal_group,omitempty"`
	Overrides            *OverridesJSON  `json:"overrides,omitempty"`
	Validation           *string         `json:"validation,omitempty"`
	Version              *int            `json:"version,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON records to domain types.
type CatalogFactory struct{}

// NewCatalogFactory creates a new catalog factory.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseCatalog parses a JSON document into a validated catalog.
func (f *CatalogFactory) ParseCatalog(data []byte) (grd.Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return grd.Catalog{}, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts CatalogJSON to a grd.Catalog.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (grd.Catalog, error) {
	var c grd.Catalog
	for i, rj := range cj.Rules {
		r, err := f.RuleFromJSON(rj)
		if err != nil {
			return grd.Catalog{}, fmt.Errorf("grd_rules[%d]: %w", i, err)
		}
		c.Rules = append(c.Rules, r)
	}
	for i, pj := range cj.Prices {
		p, err := f.PriceFromJSON(pj)
		if err != nil {
			return grd.Catalog{}, fmt.Errorf("prices[%d]: %w", i, err)
		}
		c.Prices = append(c.Prices, p)
	}
	return c, nil
}

// RuleFromJSON converts one GRD definition.
func (f *CatalogFactory) RuleFromJSON(rj GrdRuleJSON) (grd.GrdRule, error) {
	code := strings.ToUpper(strings.TrimSpace(rj.Code))
	if code == "" {
		return grd.GrdRule{}, &generic.FieldError{Field: "code", Message: "required"}
	}

	r := grd.GrdRule{Code: code, Description: strings.TrimSpace(rj.Description)}
	var err error
	if r.Weight, err = nonNegative("weight", rj.Weight); err != nil {
		return grd.GrdRule{}, err
	}
	if r.LowerCutoff, err = nonNegative("lower_cutoff", rj.LowerCutoff); err != nil {
		return grd.GrdRule{}, err
	}
	if r.UpperCutoff, err = nonNegative("upper_cutoff", rj.UpperCutoff); err != nil {
		return grd.GrdRule{}, err
	}
	if r.Percentile50, err = nonNegative("percentile50", rj.Percentile50); err != nil {
		return grd.GrdRule{}, err
	}
	if r.Percentile75, err = nonNegative("percentile75", rj.Percentile75); err != nil {
		return grd.GrdRule{}, err
	}
	if r.LowerCutoff != nil && r.UpperCutoff != nil && r.LowerCutoff.GreaterThan(*r.UpperCutoff) {
		return grd.GrdRule{}, &generic.FieldError{Field: "lower_cutoff", Message: "must not exceed upper_cutoff"}
	}
	return r, nil
}

// PriceFromJSON converts one price quotation.
func (f *CatalogFactory) PriceFromJSON(pj PriceEntryJSON) (grd.PriceEntry, error) {
	agreement := grd.NormalizeAgreement(pj.Agreement)
	if agreement == "" {
		return grd.PriceEntry{}, &generic.FieldError{Field: "agreement", Message: "required"}
	}
	if pj.Price == nil {
		return grd.PriceEntry{}, &generic.FieldError{Field: "price", Message: "required"}
	}
	price, err := generic.DecimalFromFloat("price", *pj.Price)
	if err != nil {
		return grd.PriceEntry{}, err
	}
	if price.IsNegative() {
		return grd.PriceEntry{}, &generic.FieldError{Field: "price", Message: "must not be negative"}
	}

	start, err := parseOptionalDate("effective_start", pj.EffectiveStart)
	if err != nil {
		return grd.PriceEntry{}, err
	}
	end, err := parseOptionalDate("effective_end", pj.EffectiveEnd)
	if err != nil {
		return grd.PriceEntry{}, err
	}
	period := generic.Period{Start: start, End: end}
	if !period.Valid() {
		return grd.PriceEntry{}, &generic.FieldError{Field: "effective_end", Message: "before effective_start"}
	}

	var createdAt time.Time
	if pj.CreatedAt != "" {
		t, err := parseOptionalDate("created_at", pj.CreatedAt)
		if err != nil {
			return grd.PriceEntry{}, err
		}
		createdAt = *t
	}

	return grd.PriceEntry{
		ID:            generic.PriceEntryID(pj.ID),
		AgreementCode: agreement,
		Tier:          strings.ToUpper(strings.TrimSpace(pj.Tier)),
		Effective:     period,
		Price:         price,
		CreatedAt:     createdAt,
	}, nil
}

// =============================================================================
// EPISODES
// =============================================================================

// EpisodeFromJSON converts a full episode record.
func (f *CatalogFactory) EpisodeFromJSON(ej EpisodeJSON) (grd.Episode, error) {
	ep := grd.Episode{
		ID:                 generic.EpisodeID(strings.TrimSpace(ej.ID)),
		PatientID:          generic.PatientID(strings.TrimSpace(ej.PatientID)),
		AgreementCode:      grd.NormalizeAgreement(ej.AgreementCode),
		DelayDays:          ej.DelayDays,
		OutsideNormalGroup: ej.OutsideNormalGroup,
	}

	var err error
	if ep.AdmissionDate, err = parseOptionalDate("admission_date", ej.AdmissionDate); err != nil {
		return grd.Episode{}, err
	}
	if ep.DischargeDate, err = parseOptionalDate("discharge_date", ej.DischargeDate); err != nil {
		return grd.Episode{}, err
	}
	if code := strings.TrimSpace(ej.GrdCode); code != "" {
		ep.GrdCode = &code
	}
	if ep.GroupWeight, err = generic.OptionalDecimal("group_weight", ej.GroupWeight); err != nil {
		return grd.Episode{}, err
	}
	if ej.Technology != nil {
		if ep.Technology, err = technologyFromJSON(*ej.Technology); err != nil {
			return grd.Episode{}, err
		}
	}
	if ep.ManualDelayPayment, err = generic.OptionalDecimal("manual_delay_payment", ej.ManualDelayPayment); err != nil {
		return grd.Episode{}, err
	}
	if ep.ManualOutlierPayment, err = generic.OptionalDecimal("manual_outlier_payment", ej.ManualOutlierPayment); err != nil {
		return grd.Episode{}, err
	}
	if ej.Overrides != nil {
		if ep.Overrides, err = overridesFromJSON(*ej.Overrides); err != nil {
			return grd.Episode{}, err
		}
	}
	status, ok := grd.ParseValidationStatus(ej.Validation)
	if !ok {
		return grd.Episode{}, &generic.FieldError{Field: "validation", Message: "must be pending, approved or rejected"}
	}
	ep.Validation = status

	if err := grd.ValidateEpisode(ep); err != nil {
		return grd.Episode{}, err
	}
	return ep, nil
}

// EpisodeUpdateFromJSON converts a partial edit.
func (f *CatalogFactory) EpisodeUpdateFromJSON(pj EpisodePatchJSON) (grd.EpisodeUpdate, error) {
	var (
		u   grd.EpisodeUpdate
		err error
	)
	if pj.PatientID != nil {
		id := generic.PatientID(strings.TrimSpace(*pj.PatientID))
		u.PatientID = &id
	}
	if pj.AdmissionDate != nil {
		if u.AdmissionDate, err = parseRequiredDate("admission_date", *pj.AdmissionDate); err != nil {
			return u, err
		}
	}
	if pj.DischargeDate != nil {
		if u.DischargeDate, err = parseRequiredDate("discharge_date", *pj.DischargeDate); err != nil {
			return u, err
		}
	}
	if pj.GrdCode != nil {
		code := strings.TrimSpace(*pj.GrdCode)
		u.GrdCode = &code
	}
	if pj.AgreementCode != nil {
		code := grd.NormalizeAgreement(*pj.AgreementCode)
		u.AgreementCode = &code
	}
	if u.GroupWeight, u.ClearGroupWeight, err = patchDecimal("group_weight", pj.GroupWeight); err != nil {
		return u, err
	}
	if pj.Technology != nil {
		tech, err := technologyFromJSON(*pj.Technology)
		if err != nil {
			return u, err
		}
		u.Technology = &tech
	}
	if pj.DelayDays != nil {
		if *pj.DelayDays < 0 {
			return u, &generic.FieldError{Field: "delay_days", Message: "must not be negative"}
		}
		u.DelayDays = pj.DelayDays
	}
	if u.ManualDelayPayment, u.ClearManualDelayPayment, err = patchDecimal("manual_delay_payment", pj.ManualDelayPayment); err != nil {
		return u, err
	}
	if u.ManualOutlierPayment, u.ClearManualOutlierPayment, err = patchDecimal("manual_outlier_payment", pj.ManualOutlierPayment); err != nil {
		return u, err
	}
	u.OutsideNormalGroup = pj.OutsideNormalGroup
	if pj.Overrides != nil {
		o, err := overridesFromJSON(*pj.Overrides)
		if err != nil {
			return u, err
		}
		u.Overrides = &o
	}
	if pj.Validation != nil {
		status, ok := grd.ParseValidationStatus(*pj.Validation)
		if !ok {
			return u, &generic.FieldError{Field: "validation", Message: "must be pending, approved or rejected"}
		}
		u.Validation = &status
	}
	u.ExpectedVersion = pj.Version
	return u, nil
}

// patchDecimal converts a nullable patch number. An explicit null reports
// clear; an absent field reports neither a value nor clear.
func patchDecimal(field string, n NullableFloat) (*decimal.Decimal, bool, error) {
	if !n.Set {
		return nil, false, nil
	}
	if n.Value == nil {
		return nil, true, nil
	}
	d, err := generic.OptionalDecimal(field, n.Value)
	return d, false, err
}

func nonNegative(field string, f *float64) (*decimal.Decimal, error) {
	d, err := generic.OptionalDecimal(field, f)
	if err != nil {
		return nil, err
	}
	if d != nil && d.IsNegative() {
		return nil, &generic.FieldError{Field: field, Message: "must not be negative"}
	}
	return d, nil
}

func technologyFromJSON(tj TechnologyJSON) (grd.Technology, error) {
	amount, err := generic.OptionalDecimal("technology.amount", tj.Amount)
	if err != nil {
		return grd.Technology{}, err
	}
	return grd.Technology{Flag: tj.Flag, Detail: strings.TrimSpace(tj.Detail), Amount: amount}, nil
}

func overridesFromJSON(oj OverridesJSON) (grd.Overrides, error) {
	gv, err := generic.OptionalDecimal("overrides.group_value", oj.GroupValue)
	if err != nil {
		return grd.Overrides{}, err
	}
	fa, err := generic.OptionalDecimal("overrides.final_amount", oj.FinalAmount)
	if err != nil {
		return grd.Overrides{}, err
	}
	return grd.Overrides{GroupValue: gv, FinalAmount: fa}, nil
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t := generic.ParseDate(s)
	if t == nil {
		return nil, &generic.FieldError{Field: field, Message: fmt.Sprintf("unparseable date %q", s)}
	}
	return t, nil
}

func parseRequiredDate(field, s string) (*time.Time, error) {
	t, err := parseOptionalDate(field, s)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &generic.FieldError{Field: field, Message: "required"}
	}
	return t, nil
}
