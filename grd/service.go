/*
service.go - Repository-backed episode orchestration

PURPOSE:
  Glues the pure engine to a Repository: fetch snapshot, recalculate,
  persist. This is what the HTTP layer, the scheduler and the CLI call.

RECALCULATION POLICY:
  - Every read recalculates; if the derived fields moved (new price row,
    edited rule) the episode is written back.
  - Every partial update recalculates and persists all derived fields, not
    only the edited input.
  - Writes use the episode version read at the start (optimistic check).
    A read-path write that loses the race is logged and skipped; the caller
    still gets the freshly computed values.

OVERRIDES:
  Writing a group value or final amount override to an episode that is not
  flagged outside the normal group is rejected (generic.OverrideError).
  Overrides already stored on such an episode are kept but ignored by the
  aggregator and reported as warnings.
*/
package grd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/grd-engine/generic"
)

// Service runs the engine against a Repository.
type Service struct {
	Repo   Repository
	Engine *Engine
	Log    zerolog.Logger
	Now    func() time.Time
}

// NewService creates a service with the given engine defaults.
func NewService(repo Repository, defaults Defaults, log zerolog.Logger) *Service {
	return &Service{
		Repo:   repo,
		Engine: NewEngine(defaults),
		Log:    log,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// EpisodeView is an episode with the details of its latest recalculation.
type EpisodeView struct {
	Episode Episode
	Result  Result
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot fetches the reference data of an episode. A GRD code that is not
// in the catalog yields a nil rule, not an error.
func (s *Service) Snapshot(ctx context.Context, ep Episode) (Snapshot, error) {
	snap := Snapshot{Episode: ep}

	if ep.GrdCode != nil && *ep.GrdCode != "" {
		rule, err := s.Repo.GetGrdRule(ctx, *ep.GrdCode)
		switch {
		case err == nil:
			snap.Rule = rule
		case errors.Is(err, generic.ErrGrdRuleNotFound):
		default:
			return snap, fmt.Errorf("load grd rule %s: %w", *ep.GrdCode, err)
		}
	}

	if code := NormalizeAgreement(ep.AgreementCode); code != "" {
		prices, err := s.Repo.ListPriceEntries(ctx, code)
		if err != nil {
			return snap, fmt.Errorf("load prices for %s: %w", code, err)
		}
		snap.Prices = prices
	}
	return snap, nil
}

func (s *Service) recalculate(ctx context.Context, ep Episode) (Result, error) {
	snap, err := s.Snapshot(ctx, ep)
	if err != nil {
		return Result{}, err
	}
	r, err := s.Engine.Recalculate(snap)
	if err != nil {
		return Result{}, fmt.Errorf("recalculate episode %s: %w", ep.ID, err)
	}
	s.logWarnings(ep.ID, r.Warnings)
	return r, nil
}

func (s *Service) logWarnings(id generic.EpisodeID, ws []Warning) {
	for _, w := range ws {
		s.Log.Warn().
			Str("episode_id", string(id)).
			Str("code", w.Code).
			Str("field", w.Field).
			Msg(w.Message)
	}
}

// =============================================================================
// READ
// =============================================================================

// GetEpisode loads, recalculates and (if anything moved) persists an episode.
func (s *Service) GetEpisode(ctx context.Context, id generic.EpisodeID) (*EpisodeView, error) {
	ep, err := s.Repo.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, *ep)
}

// ListEpisodes recalculates every listed episode.
func (s *Service) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]EpisodeView, error) {
	eps, err := s.Repo.ListEpisodes(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]EpisodeView, 0, len(eps))
	for _, ep := range eps {
		v, err := s.refresh(ctx, ep)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (s *Service) refresh(ctx context.Context, ep Episode) (*EpisodeView, error) {
	r, err := s.recalculate(ctx, ep)
	if err != nil {
		return nil, err
	}
	updated := r.Apply(ep)
	if !r.Patch.IsEmpty() {
		updated.UpdatedAt = s.Now()
		err := s.Repo.UpdateEpisode(ctx, updated, ep.Version)
		switch {
		case err == nil:
			updated.Version = ep.Version + 1
			s.Log.Debug().
				Str("episode_id", string(ep.ID)).
				Strs("changed", r.Patch.Changed).
				Msg("derived fields refreshed on read")
		case errors.Is(err, generic.ErrConcurrentModification):
			s.Log.Info().Str("episode_id", string(ep.ID)).Msg("skipped read-path write: episode changed concurrently")
		default:
			return nil, fmt.Errorf("persist episode %s: %w", ep.ID, err)
		}
	}
	return &EpisodeView{Episode: updated, Result: r}, nil
}

// =============================================================================
// WRITE
// =============================================================================

// CreateEpisode validates, recalculates and stores a new episode.
func (s *Service) CreateEpisode(ctx context.Context, ep Episode) (*EpisodeView, error) {
	if ep.ID == "" {
		ep.ID = generic.EpisodeID(uuid.NewString())
	}
	if ep.Validation == "" {
		ep.Validation = ValidationPending
	}
	if err := ValidateEpisode(ep); err != nil {
		return nil, err
	}
	if err := checkOverrides(ep, ep.Overrides); err != nil {
		return nil, err
	}

	now := s.Now()
	ep.CreatedAt, ep.UpdatedAt = now, now

	r, err := s.recalculate(ctx, ep)
	if err != nil {
		return nil, err
	}
	ep = r.Apply(ep)
	if err := s.Repo.CreateEpisode(ctx, ep); err != nil {
		return nil, fmt.Errorf("create episode %s: %w", ep.ID, err)
	}
	ep.Version = 1

	s.Log.Info().
		Str("episode_id", string(ep.ID)).
		Str("agreement", NormalizeAgreement(ep.AgreementCode)).
		Str("final_amount", ep.Calculated.FinalAmount.String()).
		Msg("episode created")
	return &EpisodeView{Episode: ep, Result: r}, nil
}

// EpisodeUpdate is a partial edit. Nil fields are left untouched.
type EpisodeUpdate struct {
	PatientID            *generic.PatientID
	AdmissionDate        *time.Time
	DischargeDate        *time.Time
	GrdCode              *string // "" clears the GRD reference
	AgreementCode        *string
	GroupWeight          *decimal.Decimal
	Technology           *Technology
	DelayDays            *int
	ManualDelayPayment   *decimal.Decimal
	ManualOutlierPayment *decimal.Decimal
	OutsideNormalGroup   *bool
	Overrides            *Overrides // replaces both override fields
	Validation           *ValidationStatus

	// Clear flags reset a nullable field to absent. They win over a value
	// given for the same field.
	ClearGroupWeight          bool
	ClearManualDelayPayment   bool
	ClearManualOutlierPayment bool

	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int
}

// Apply returns ep with the update applied.
func (u EpisodeUpdate) Apply(ep Episode) Episode {
	if u.PatientID != nil {
		ep.PatientID = *u.PatientID
	}
	if u.AdmissionDate != nil {
		ep.AdmissionDate = u.AdmissionDate
	}
	if u.DischargeDate != nil {
		ep.DischargeDate = u.DischargeDate
	}
	if u.GrdCode != nil {
		if *u.GrdCode == "" {
			ep.GrdCode = nil
		} else {
			code := *u.GrdCode
			ep.GrdCode = &code
		}
	}
	if u.AgreementCode != nil {
		ep.AgreementCode = *u.AgreementCode
	}
	if u.GroupWeight != nil {
		ep.GroupWeight = u.GroupWeight
	}
	if u.ClearGroupWeight {
		ep.GroupWeight = nil
	}
	if u.Technology != nil {
		ep.Technology = *u.Technology
	}
	if u.DelayDays != nil {
		ep.DelayDays = *u.DelayDays
	}
	if u.ManualDelayPayment != nil {
		ep.ManualDelayPayment = u.ManualDelayPayment
	}
	if u.ClearManualDelayPayment {
		ep.ManualDelayPayment = nil
	}
	if u.ManualOutlierPayment != nil {
		ep.ManualOutlierPayment = u.ManualOutlierPayment
	}
	if u.ClearManualOutlierPayment {
		ep.ManualOutlierPayment = nil
	}
	if u.OutsideNormalGroup != nil {
		ep.OutsideNormalGroup = *u.OutsideNormalGroup
	}
	if u.Overrides != nil {
		ep.Overrides = *u.Overrides
	}
	if u.Validation != nil {
		ep.Validation = *u.Validation
	}
	return ep
}

// UpdateEpisode applies a partial edit and persists every recomputed field.
func (s *Service) UpdateEpisode(ctx context.Context, id generic.EpisodeID, u EpisodeUpdate) (*EpisodeView, error) {
	current, err := s.Repo.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ExpectedVersion != nil && *u.ExpectedVersion != current.Version {
		return nil, generic.ErrConcurrentModification
	}

	ep := u.Apply(*current)
	if err := ValidateEpisode(ep); err != nil {
		return nil, err
	}
	if u.Overrides != nil {
		if err := checkOverrides(ep, *u.Overrides); err != nil {
			return nil, err
		}
	}

	r, err := s.recalculate(ctx, ep)
	if err != nil {
		return nil, err
	}
	ep = r.Apply(ep)
	ep.UpdatedAt = s.Now()
	if err := s.Repo.UpdateEpisode(ctx, ep, current.Version); err != nil {
		return nil, fmt.Errorf("update episode %s: %w", id, err)
	}
	ep.Version = current.Version + 1

	s.Log.Info().
		Str("episode_id", string(id)).
		Strs("changed", r.Patch.Changed).
		Msg("episode updated")
	return &EpisodeView{Episode: ep, Result: r}, nil
}

// SetValidation records the review outcome of an episode.
func (s *Service) SetValidation(ctx context.Context, id generic.EpisodeID, status ValidationStatus) (*EpisodeView, error) {
	return s.UpdateEpisode(ctx, id, EpisodeUpdate{Validation: &status})
}

// DeleteEpisode removes an episode.
func (s *Service) DeleteEpisode(ctx context.Context, id generic.EpisodeID) error {
	if err := s.Repo.DeleteEpisode(ctx, id); err != nil {
		return err
	}
	s.Log.Info().Str("episode_id", string(id)).Msg("episode deleted")
	return nil
}

// ValidateEpisode checks structural constraints that must hold before the
// engine runs.
func ValidateEpisode(ep Episode) error {
	if ep.DelayDays < 0 {
		return &generic.FieldError{Field: "delay_days", Message: "must not be negative"}
	}
	if ep.GroupWeight != nil && ep.GroupWeight.IsNegative() {
		return &generic.FieldError{Field: "group_weight", Message: "must not be negative"}
	}
	if _, ok := ParseValidationStatus(string(ep.Validation)); !ok {
		return &generic.FieldError{Field: "validation", Message: "must be pending, approved or rejected"}
	}
	return nil
}

func checkOverrides(ep Episode, o Overrides) error {
	if ep.OutsideNormalGroup || o.IsEmpty() {
		return nil
	}
	return &generic.OverrideError{EpisodeID: ep.ID, Fields: o.Fields()}
}

// =============================================================================
// BULK
// =============================================================================

// RecalcSummary counts the outcome of a bulk recalculation.
type RecalcSummary struct {
	Total     int
	Updated   int
	Unchanged int
	Conflicts int
	Failed    int
}

// RecalculateAll refreshes every episode using workers goroutines. Distinct
// episodes are independent, so they are processed in parallel; a conflicting
// concurrent write on the same episode is counted, not retried.
func (s *Service) RecalculateAll(ctx context.Context, workers int) (RecalcSummary, error) {
	eps, err := s.Repo.ListEpisodes(ctx, EpisodeFilter{})
	if err != nil {
		return RecalcSummary{}, err
	}
	if workers < 1 {
		workers = 1
	}

	var (
		summary = RecalcSummary{Total: len(eps)}
		mu      sync.Mutex
		wg      sync.WaitGroup
		jobs    = make(chan Episode)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ep := range jobs {
				outcome := s.recalculateOne(ctx, ep)
				mu.Lock()
				switch outcome {
				case outcomeUpdated:
					summary.Updated++
				case outcomeUnchanged:
					summary.Unchanged++
				case outcomeConflict:
					summary.Conflicts++
				default:
					summary.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, ep := range eps {
		select {
		case jobs <- ep:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	s.Log.Info().
		Int("total", summary.Total).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("conflicts", summary.Conflicts).
		Int("failed", summary.Failed).
		Msg("bulk recalculation finished")
	return summary, ctx.Err()
}

type recalcOutcome int

const (
	outcomeFailed recalcOutcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeConflict
)

func (s *Service) recalculateOne(ctx context.Context, ep Episode) recalcOutcome {
	r, err := s.recalculate(ctx, ep)
	if err != nil {
		s.Log.Error().Err(err).Str("episode_id", string(ep.ID)).Msg("recalculation failed")
		return outcomeFailed
	}
	if r.Patch.IsEmpty() {
		return outcomeUnchanged
	}
	updated := r.Apply(ep)
	updated.UpdatedAt = s.Now()
	err = s.Repo.UpdateEpisode(ctx, updated, ep.Version)
	switch {
	case err == nil:
		return outcomeUpdated
	case errors.Is(err, generic.ErrConcurrentModification):
		return outcomeConflict
	default:
		s.Log.Error().Err(err).Str("episode_id", string(ep.ID)).Msg("persist recalculation failed")
		return outcomeFailed
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a validated batch of reference data.
type Catalog struct {
	Rules  []GrdRule
	Prices []PriceEntry
}

// ImportSummary counts what a catalog import wrote.
type ImportSummary struct {
	Rules  int
	Prices int
}

// ImportCatalog upserts GRD rules by code and appends price quotations.
// Entries without an ID or CreatedAt get one.
func (s *Service) ImportCatalog(ctx context.Context, c Catalog) (ImportSummary, error) {
	now := s.Now()
	rules := make([]GrdRule, len(c.Rules))
	for i, r := range c.Rules {
		if r.Code == "" {
			return ImportSummary{}, &generic.FieldError{Field: fmt.Sprintf("rules[%d].code", i), Message: "required"}
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		rules[i] = r
	}
	prices := make([]PriceEntry, len(c.Prices))
	for i, p := range c.Prices {
		if err := ValidatePriceEntry(p); err != nil {
			return ImportSummary{}, fmt.Errorf("prices[%d]: %w", i, err)
		}
		prices[i] = s.stampPrice(p, now)
	}

	if err := s.Repo.ImportCatalog(ctx, rules, prices); err != nil {
		return ImportSummary{}, fmt.Errorf("import catalog: %w", err)
	}
	s.Log.Info().Int("rules", len(rules)).Int("prices", len(prices)).Msg("catalog imported")
	return ImportSummary{Rules: len(rules), Prices: len(prices)}, nil
}

// AddPriceEntry validates and appends one price quotation.
func (s *Service) AddPriceEntry(ctx context.Context, p PriceEntry) (PriceEntry, error) {
	if err := ValidatePriceEntry(p); err != nil {
		return PriceEntry{}, err
	}
	p = s.stampPrice(p, s.Now())
	if err := s.Repo.AddPriceEntry(ctx, p); err != nil {
		return PriceEntry{}, fmt.Errorf("add price entry: %w", err)
	}
	return p, nil
}

func (s *Service) stampPrice(p PriceEntry, now time.Time) PriceEntry {
	if p.ID == "" {
		p.ID = generic.PriceEntryID(uuid.NewString())
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.AgreementCode = NormalizeAgreement(p.AgreementCode)
	return p
}

// ValidatePriceEntry checks a quotation before it is stored.
func ValidatePriceEntry(p PriceEntry) error {
	if NormalizeAgreement(p.AgreementCode) == "" {
		return &generic.FieldError{Field: "agreement", Message: "required"}
	}
	if p.Price.IsNegative() {
		return &generic.FieldError{Field: "price", Message: "must not be negative"}
	}
	if !p.Effective.Valid() {
		return generic.ErrInvalidInput
	}
	return nil
}

// UpsertGrdRule stores a GRD definition, replacing any rule with the same code.
// Episodes pick up the change on their next read or bulk recalculation.
func (s *Service) UpsertGrdRule(ctx context.Context, rule GrdRule) (GrdRule, error) {
	if rule.Code == "" {
		return GrdRule{}, &generic.FieldError{Field: "code", Message: "required"}
	}
	rule.UpdatedAt = s.Now()
	if err := s.Repo.UpsertGrdRule(ctx, rule); err != nil {
		return GrdRule{}, fmt.Errorf("upsert grd rule %s: %w", rule.Code, err)
	}
	s.Log.Info().Str("grd_code", rule.Code).Msg("grd rule saved")
	return rule, nil
}

// =============================================================================
// PATIENTS
// =============================================================================

// SavePatient creates or replaces a patient record.
func (s *Service) SavePatient(ctx context.Context, p Patient) (Patient, error) {
	if p.ID == "" {
		p.ID = generic.PatientID(uuid.NewString())
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.Now()
	}
	if err := s.Repo.SavePatient(ctx, p); err != nil {
		return Patient{}, fmt.Errorf("save patient %s: %w", p.ID, err)
	}
	return p, nil
}
