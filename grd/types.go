/*
Package grd implements the diagnosis-related-group reimbursement engine.

PURPOSE:
  Given a hospitalization episode, its GRD rule and the price quotations of
  its insurance agreement (convenio), the engine computes how much the payer
  owes. The engine is a set of pure functions over a snapshot; it never reads
  or writes storage itself.

PIPELINE:
  Snapshot ─┬─> Stay Classifier  (stay.go)      ─┐
            └─> Tariff Resolver  (tariff.go)    ─┴─> Surcharge Calculator
                                                      (surcharge.go)
                                                         │
                                                         v
                                                  Settlement Aggregator
                                                      (settlement.go)
                                                         │
                                                         v
                                                  Result + Patch (engine.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Episode: One hospitalization record with its last persisted derived fields
  - GrdRule: Weight and stay cutoffs of a diagnosis-related group
  - PriceEntry: One price quotation of an agreement (optionally tiered/dated)
  - Calculated: The derived fields the engine owns

SEE ALSO:
  - agreement.go: Agreement kind table and tiers
  - engine.go: Full recalculation pipeline
  - service.go: Repository-backed orchestration
*/
package grd

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classification of a stay relative to the GRD cutoff points.
// The zero value is Unclassified, which is distinct from Inlier.
type Classification string

const (
	Unclassified    Classification = ""
	Inlier          Classification = "inlier"
	OutlierSuperior Classification = "outlier_superior"
	OutlierInferior Classification = "outlier_inferior"
)

func (c Classification) IsClassified() bool { return c != Unclassified }

// ValidationStatus is the tri-state review outcome of an episode.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// ParseValidationStatus accepts the three states; empty means pending.
func ParseValidationStatus(s string) (ValidationStatus, bool) {
	switch ValidationStatus(s) {
	case "", ValidationPending:
		return ValidationPending, true
	case ValidationApproved, ValidationRejected:
		return ValidationStatus(s), true
	default:
		return "", false
	}
}

// =============================================================================
// CATALOG RECORDS
// =============================================================================

// GrdRule is one diagnosis-related-group definition. Read-only to the engine.
type GrdRule struct {
	Code        string
	Description string
	Weight      *decimal.Decimal

	// Stay cutoff points, in days.
	LowerCutoff *decimal.Decimal
	UpperCutoff *decimal.Decimal

	// Reference stay lengths used by the surcharge formulas.
	Percentile50 *decimal.Decimal
	Percentile75 *decimal.Decimal

	UpdatedAt time.Time
}

// PriceEntry is one price quotation for an agreement.
// Several may exist for the same (agreement, tier); the latest CreatedAt wins.
type PriceEntry struct {
	ID            generic.PriceEntryID
	AgreementCode string
	Tier          string // empty for flat agreements and delay rates
	Effective     generic.Period
	Price         decimal.Decimal
	CreatedAt     time.Time
}

// Patient is the demographic record an episode points to.
type Patient struct {
	ID         generic.PatientID
	DocumentID string
	Name       string
	BirthDate  *time.Time
	CreatedAt  time.Time
}

// =============================================================================
// EPISODE
// =============================================================================

// Technology holds the technology-adjustment add-on of an episode.
type Technology struct {
	Flag   bool
	Detail string
	Amount *decimal.Decimal
}

// Overrides are manually entered settlement values. They are honored only
// for episodes flagged outside the normal group classification.
type Overrides struct {
	GroupValue  *decimal.Decimal
	FinalAmount *decimal.Decimal
}

func (o Overrides) IsEmpty() bool { return o.GroupValue == nil && o.FinalAmount == nil }

// Fields lists the names of the overrides that are set.
func (o Overrides) Fields() []string {
	var fields []string
	if o.GroupValue != nil {
		fields = append(fields, FieldGroupValue)
	}
	if o.FinalAmount != nil {
		fields = append(fields, FieldFinalAmount)
	}
	return fields
}

// Calculated holds the derived fields owned by the engine, as last persisted.
type Calculated struct {
	LengthOfStay   int
	Classification Classification
	BasePrice      *decimal.Decimal // nil when no price could be resolved
	GroupValue     decimal.Decimal
	DelayPayment   decimal.Decimal
	OutlierPayment decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Episode is one hospitalization record.
type Episode struct {
	ID        generic.EpisodeID
	PatientID generic.PatientID

	AdmissionDate *time.Time
	DischargeDate *time.Time

	GrdCode       *string
	AgreementCode string
	GroupWeight   *decimal.Decimal

	Technology Technology

	// Rescue delay: days waited for transfer, and the manually entered payment
	// used when no formula applies.
	DelayDays          int
	ManualDelayPayment *decimal.Decimal

	// Manually entered outlier payment. Stored as entered; the superior
	// outlier formula does not read it.
	ManualOutlierPayment *decimal.Decimal

	OutsideNormalGroup bool
	Overrides          Overrides

	Validation ValidationStatus

	Calculated Calculated

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SNAPSHOT - Everything the engine reads for one episode
// =============================================================================

// Snapshot bundles an episode with its already-fetched reference data.
// Rule is nil when the episode has no GRD or the code is unknown.
// Prices should contain the rows of the episode's agreement; rows for other
// agreements are ignored.
type Snapshot struct {
	Episode Episode
	Rule    *GrdRule
	Prices  []PriceEntry
}

// Field names used in patches, overrides and warnings.
const (
	FieldLengthOfStay   = "length_of_stay"
	FieldClassification = "classification"
	FieldBasePrice      = "base_price"
	FieldGroupValue     = "group_value"
	FieldDelayPayment   = "delay_payment"
	FieldOutlierPayment = "outlier_payment"
	FieldFinalAmount    = "final_amount"
)
