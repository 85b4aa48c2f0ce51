/*
repository.go - Persistence interface consumed by the service layer

PURPOSE:
  Defines the interface between the reimbursement service and the database.
  The engine itself never touches it: the service fetches a Snapshot through
  it, runs the engine, and writes the recalculated episode back.

KEY INTERFACES:
  EpisodeStore: Episodes with optimistic versioning
  CatalogStore: GRD rules (upsert by code) and agreement price quotations
  PatientStore: Patients (foreign key target only)
  Repository:   All of the above

OPTIMISTIC VERSIONING:
  UpdateEpisode takes the version the caller read. If the stored version has
  moved on, the write is rejected with generic.ErrConcurrentModification and
  nothing is written. A successful write increments the version.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - grd/store/memory.go: In-memory for testing
*/
package grd

import (
	"context"

	"github.com/warp/grd-engine/generic"
)

// EpisodeFilter narrows ListEpisodes. Zero values match everything.
type EpisodeFilter struct {
	AgreementCode string
	GrdCode       string
	PatientID     generic.PatientID
	Validation    ValidationStatus
	Limit         int
}

// Matches reports whether ep passes the filter (Limit is not applied).
func (f EpisodeFilter) Matches(ep Episode) bool {
	if f.AgreementCode != "" && NormalizeAgreement(ep.AgreementCode) != NormalizeAgreement(f.AgreementCode) {
		return false
	}
	if f.GrdCode != "" && (ep.GrdCode == nil || *ep.GrdCode != f.GrdCode) {
		return false
	}
	if f.PatientID != "" && ep.PatientID != f.PatientID {
		return false
	}
	if f.Validation != "" && ep.Validation != f.Validation {
		return false
	}
	return true
}

// EpisodeStore persists episodes.
type EpisodeStore interface {
	// GetEpisode returns generic.ErrEpisodeNotFound when id is unknown.
	GetEpisode(ctx context.Context, id generic.EpisodeID) (*Episode, error)

	// ListEpisodes returns episodes ordered by id.
	ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]Episode, error)

	// CreateEpisode stores a new episode at version 1.
	CreateEpisode(ctx context.Context, ep Episode) error

	// UpdateEpisode replaces the episode if its stored version equals
	// expectedVersion, then increments the version.
	UpdateEpisode(ctx context.Context, ep Episode, expectedVersion int) error

	// DeleteEpisode returns generic.ErrEpisodeNotFound when id is unknown.
	DeleteEpisode(ctx context.Context, id generic.EpisodeID) error
}

// CatalogStore persists GRD rules and agreement price quotations.
type CatalogStore interface {
	// GetGrdRule returns generic.ErrGrdRuleNotFound when code is unknown.
	GetGrdRule(ctx context.Context, code string) (*GrdRule, error)
	ListGrdRules(ctx context.Context) ([]GrdRule, error)
	UpsertGrdRule(ctx context.Context, rule GrdRule) error

	// ListPriceEntries returns the quotations of one agreement (all when
	// agreement is empty), ordered by creation time.
	ListPriceEntries(ctx context.Context, agreement string) ([]PriceEntry, error)
	AddPriceEntry(ctx context.Context, entry PriceEntry) error

	// ImportCatalog upserts rules and appends price entries atomically.
	ImportCatalog(ctx context.Context, rules []GrdRule, prices []PriceEntry) error
}

// PatientStore persists patients.
type PatientStore interface {
	SavePatient(ctx context.Context, p Patient) error
	// GetPatient returns generic.ErrPatientNotFound when id is unknown.
	GetPatient(ctx context.Context, id generic.PatientID) (*Patient, error)
}

// Repository is everything the service needs.
type Repository interface {
	EpisodeStore
	CatalogStore
	PatientStore
}
