/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request bodies reuse
  the factory JSON schema types so every number and date goes through the
  same validation as catalog imports. Responses carry amounts as JSON
  numbers; the engine itself never sees floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Episode:
    EpisodeDTO, CalculatedDTO, BreakdownDTO
    (requests: factory.EpisodeJSON, factory.EpisodePatchJSON)

  Catalog:
    GrdRuleDTO, PriceEntryDTO, ImportSummaryDTO
    (requests: factory.GrdRuleJSON, factory.PriceEntryJSON, factory.CatalogJSON)

  Patient:
    PatientDTO, CreatePatientRequest

  Admin:
    RecalcSummaryDTO, SetValidationRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: Request schema types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
)

// =============================================================================
// EPISODES
// =============================================================================

// EpisodeDTO represents an episode in API responses.
type EpisodeDTO struct {
	ID                   string        `json:"id"`
	PatientID            string        `json:"patient_id,omitempty"`
	AdmissionDate        string        `json:"admission_date,omitempty"`
	DischargeDate        string        `json:"discharge_date,omitempty"`
	GrdCode              string        `json:"grd_code,omitempty"`
	AgreementCode        string        `json:"agreement_code"`
	GroupWeight          *float64      `json:"group_weight,omitempty"`
	Technology           TechnologyDTO `json:"technology"`
	DelayDays            int           `json:"delay_days"`
	ManualDelayPayment   *float64      `json:"manual_delay_payment,omitempty"`
	ManualOutlierPayment *float64      `json:"manual_outlier_payment,omitempty"`
	OutsideNormalGroup   bool          `json:"outside_normal_group"`
	Overrides            OverridesDTO  `json:"overrides"`
	Validation           string        `json:"validation"`
	Calculated           CalculatedDTO `json:"calculated"`
	Breakdown            BreakdownDTO  `json:"breakdown"`
	Warnings             []grd.Warning `json:"warnings"`
	Version              int           `json:"version"`
	CreatedAt            string        `json:"created_at,omitempty"`
	UpdatedAt            string        `json:"updated_at,omitempty"`
}

// TechnologyDTO is the technology adjustment of an episode.
type TechnologyDTO struct {
	Flag   bool     `json:"flag"`
	Detail string   `json:"detail,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

// OverridesDTO holds manual settlement values as stored.
type OverridesDTO struct {
	GroupValue  *float64 `json:"group_value,omitempty"`
	FinalAmount *float64 `json:"final_amount,omitempty"`
}

// CalculatedDTO holds the engine-owned derived fields.
type CalculatedDTO struct {
	LengthOfStay   int      `json:"length_of_stay"`
	Classification string   `json:"classification"`
	BasePrice      *float64 `json:"base_price"`
	GroupValue     float64  `json:"group_value"`
	DelayPayment   float64  `json:"delay_payment"`
	OutlierPayment float64  `json:"outlier_payment"`
	FinalAmount    float64  `json:"final_amount"`
}

// BreakdownDTO explains how the derived fields were obtained.
type BreakdownDTO struct {
	Tier                  string   `json:"tier,omitempty"`
	TariffFound           bool     `json:"tariff_found"`
	PriceEntryID          string   `json:"price_entry_id,omitempty"`
	DelayMethod           string   `json:"delay_method"`
	DelayRate             *float64 `json:"delay_rate,omitempty"`
	OutlierApplies        bool     `json:"outlier_applies"`
	GracePeriod           float64  `json:"grace_period,omitempty"`
	DaysPostGrace         float64  `json:"days_post_grace,omitempty"`
	GroupValueOverridden  bool     `json:"group_value_overridden"`
	FinalAmountOverridden bool     `json:"final_amount_overridden"`
	IgnoredOverrides      []string `json:"ignored_overrides,omitempty"`
	Changed               []string `json:"changed,omitempty"`
}

// SetValidationRequest records a review outcome.
type SetValidationRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// CATALOG
// =============================================================================

// GrdRuleDTO represents a GRD definition in API responses.
type GrdRuleDTO struct {
	Code         string   `json:"code"`
	Description  string   `json:"description,omitempty"`
	Weight       *float64 `json:"weight,omitempty"`
	LowerCutoff  *float64 `json:"lower_cutoff,omitempty"`
	UpperCutoff  *float64 `json:"upper_cutoff,omitempty"`
	Percentile50 *float64 `json:"percentile50,omitempty"`
	Percentile75 *float64 `json:"percentile75,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// PriceEntryDTO represents a price quotation in API responses.
type PriceEntryDTO struct {
	ID             string  `json:"id"`
	Agreement      string  `json:"agreement"`
	Tier           string  `json:"tier,omitempty"`
	EffectiveStart string  `json:"effective_start,omitempty"`
	EffectiveEnd   string  `json:"effective_end,omitempty"`
	Price          float64 `json:"price"`
	CreatedAt      string  `json:"created_at"`
}

// ImportSummaryDTO reports what a catalog import wrote.
type ImportSummaryDTO struct {
	Rules  int `json:"grd_rules"`
	Prices int `json:"prices"`
}

// =============================================================================
// PATIENTS
// =============================================================================

// PatientDTO represents a patient in API responses.
type PatientDTO struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// CreatePatientRequest is the request to create a patient.
type CreatePatientRequest struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date"`
}

// =============================================================================
// ADMIN
// =============================================================================

// RecalcSummaryDTO reports a bulk recalculation.
type RecalcSummaryDTO struct {
	Total     int `json:"total"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// RecalcStatusDTO reports the periodic recalculation.
type RecalcStatusDTO struct {
	Enabled     bool              `json:"enabled"`
	Interval    string            `json:"interval,omitempty"`
	Workers     int               `json:"workers,omitempty"`
	LastRun     string            `json:"last_run,omitempty"`
	NextRun     string            `json:"next_run,omitempty"`
	LastSummary *RecalcSummaryDTO `json:"last_summary,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEpisodeDTO(v grd.EpisodeView) EpisodeDTO {
	ep, r := v.Episode, v.Result
	dto := EpisodeDTO{
		ID:                   string(ep.ID),
		PatientID:            string(ep.PatientID),
		AdmissionDate:        generic.FormatDate(ep.AdmissionDate),
		DischargeDate:        generic.FormatDate(ep.DischargeDate),
		AgreementCode:        ep.AgreementCode,
		GroupWeight:          generic.FloatPtr(ep.GroupWeight),
		DelayDays:            ep.DelayDays,
		ManualDelayPayment:   generic.FloatPtr(ep.ManualDelayPayment),
		ManualOutlierPayment: generic.FloatPtr(ep.ManualOutlierPayment),
		OutsideNormalGroup:   ep.OutsideNormalGroup,
		Technology: TechnologyDTO{
			Flag:   ep.Technology.Flag,
			Detail: ep.Technology.Detail,
			Amount: generic.FloatPtr(ep.Technology.Amount),
		},
		Overrides: OverridesDTO{
			GroupValue:  generic.FloatPtr(ep.Overrides.GroupValue),
			FinalAmount: generic.FloatPtr(ep.Overrides.FinalAmount),
		},
		Validation: string(ep.Validation),
		Calculated: toCalculatedDTO(ep.Calculated),
		Breakdown: BreakdownDTO{
			Tier:                  string(r.Tariff.Tier),
			TariffFound:           r.Tariff.Found,
			DelayMethod:           string(r.Delay.Method),
			DelayRate:             generic.FloatPtr(r.Delay.Rate),
			OutlierApplies:        r.Outlier.Applies,
			GracePeriod:           r.Outlier.GracePeriod.InexactFloat64(),
			DaysPostGrace:         r.Outlier.DaysPostGrace.InexactFloat64(),
			GroupValueOverridden:  r.Settlement.GroupValueOverridden,
			FinalAmountOverridden: r.Settlement.FinalAmountOverridden,
			IgnoredOverrides:      r.Settlement.IgnoredOverrides,
			Changed:               r.Patch.Changed,
		},
		Warnings:  r.Warnings,
		Version:   ep.Version,
		CreatedAt: formatTimestamp(ep.CreatedAt),
		UpdatedAt: formatTimestamp(ep.UpdatedAt),
	}
	if ep.GrdCode != nil {
		dto.GrdCode = *ep.GrdCode
	}
	if r.Tariff.Entry != nil {
		dto.Breakdown.PriceEntryID = string(r.Tariff.Entry.ID)
	}
	if dto.Warnings == nil {
		dto.Warnings = []grd.Warning{}
	}
	return dto
}

func toCalculatedDTO(c grd.Calculated) CalculatedDTO {
	return CalculatedDTO{
		LengthOfStay:   c.LengthOfStay,
		Classification: string(c.Classification),
		BasePrice:      generic.FloatPtr(c.BasePrice),
		GroupValue:     money(c.GroupValue),
		DelayPayment:   money(c.DelayPayment),
		OutlierPayment: money(c.OutlierPayment),
		FinalAmount:    money(c.FinalAmount),
	}
}

func toGrdRuleDTO(r grd.GrdRule) GrdRuleDTO {
	return GrdRuleDTO{
		Code:         r.Code,
		Description:  r.Description,
		Weight:       generic.FloatPtr(r.Weight),
		LowerCutoff:  generic.FloatPtr(r.LowerCutoff),
		UpperCutoff:  generic.FloatPtr(r.UpperCutoff),
		Percentile50: generic.FloatPtr(r.Percentile50),
		Percentile75: generic.FloatPtr(r.Percentile75),
		UpdatedAt:    formatTimestamp(r.UpdatedAt),
	}
}

func toPriceEntryDTO(p grd.PriceEntry) PriceEntryDTO {
	return PriceEntryDTO{
		ID:             string(p.ID),
		Agreement:      p.AgreementCode,
		Tier:           p.Tier,
		EffectiveStart: generic.FormatDate(p.Effective.Start),
		EffectiveEnd:   generic.FormatDate(p.Effective.End),
		Price:          p.Price.InexactFloat64(),
		CreatedAt:      formatTimestamp(p.CreatedAt),
	}
}

func toPatientDTO(p grd.Patient) PatientDTO {
	return PatientDTO{
		ID:         string(p.ID),
		DocumentID: p.DocumentID,
		Name:       p.Name,
		BirthDate:  generic.FormatDate(p.BirthDate),
		CreatedAt:  formatTimestamp(p.CreatedAt),
	}
}

// money rounds to whole pesos for display; stored values keep full precision.
func money(d decimal.Decimal) float64 {
	return d.Round(0).InexactFloat64()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
