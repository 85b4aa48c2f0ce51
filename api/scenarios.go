/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	catalog and a handful of episodes. Each scenario shows one part of the
	reimbursement pipeline with numbers that are easy to check by hand.

AVAILABLE SCENARIOS:

	fonasa-outlier:    FNS012 tiered prices, one inlier and one superior outlier
	ch0041-delay:      CH0041 flat price with dated daily rescue-delay rates
	fonasa-delay:      FNS019 rescue delay computed from weight and refDays75
	override-review:   Episodes outside the normal group with manual overrides

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import GRD rules and price quotations via the catalog factory
 3. Create patients
 4. Create episodes through grd.Service (derived fields are computed)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fonasa-outlier"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenarioByID

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Episode and catalog handlers
  - factory/catalog.go: Catalog JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/grd-engine/factory"
	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fonasa-outlier",
		Name:        "FONASA Superior Outlier",
		Description: "FNS012 tiered prices; a 20-day stay beyond the grace period earns an outlier payment",
	},
	{
		ID:          "ch0041-delay",
		Name:        "CH0041 Rescue Delay",
		Description: "Flat agreement price plus a daily rescue-delay rate chosen by admission date",
	},
	{
		ID:          "fonasa-delay",
		Name:        "FONASA Rescue Delay",
		Description: "FNS019 rescue delay derived from group value and the 75th percentile stay",
	},
	{
		ID:          "override-review",
		Name:        "Override Review",
		Description: "Episodes outside the normal group with manually set group value and final amount",
	},
}

// ErrUnknownScenario is returned for an unknown scenario id.
var ErrUnknownScenario = fmt.Errorf("%w: unknown scenario", generic.ErrInvalidInput)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.CurrentScenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// CurrentScenario returns the id of the loaded scenario, or "".
func (h *Handler) CurrentScenario() string {
	h.scenarioMu.RLock()
	defer h.scenarioMu.RUnlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.scenarioMu.Lock()
	h.currentScenario = id
	h.scenarioMu.Unlock()
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if generic.IsClientError(err) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets the database and seeds the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"fonasa-outlier":  h.loadFonasaOutlierScenario,
		"ch0041-delay":    h.loadCH0041DelayScenario,
		"fonasa-delay":    h.loadFonasaDelayScenario,
		"override-review": h.loadOverrideReviewScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	h.setCurrentScenario("")

	if err := load(ctx); err != nil {
		return err
	}
	h.setCurrentScenario(id)
	h.Log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFonasaOutlierScenario(ctx context.Context) error {
	// weight 2.0 lands in T2 (100000): group value 200000.
	// 20-day stay, grace = 10 + 5, post-grace 5 days: 5 × 2.0 × 100000 / 8 = 125000.
	if err := h.importCatalog(ctx, factory.CatalogJSON{
		Rules: []factory.GrdRuleJSON{
			rule("041013", "Neumonia con CC", 2.0, 2, 10, 5, 8),
			rule("041011", "Neumonia sin CC", 0.9, 1, 7, 4, 6),
		},
		Prices: fonasaTiers(grd.AgreementFNS012, 80000, 100000, 140000),
	}); err != nil {
		return err
	}
	if err := h.savePatients(ctx, "pat-001", "pat-002"); err != nil {
		return err
	}

	return h.createEpisodes(ctx,
		factory.EpisodeJSON{
			ID: "ep-outlier", PatientID: "pat-001", AgreementCode: grd.AgreementFNS012,
			AdmissionDate: "2024-03-01", DischargeDate: "2024-03-21",
			GrdCode: "041013", GroupWeight: num(2.0),
		},
		factory.EpisodeJSON{
			ID: "ep-inlier", PatientID: "pat-002", AgreementCode: grd.AgreementFNS012,
			AdmissionDate: "2024-03-04", DischargeDate: "2024-03-09",
			GrdCode: "041011", GroupWeight: num(0.9),
			Technology: &factory.TechnologyJSON{Flag: true, Detail: "Ventilacion mecanica", Amount: num(35000)},
		},
	)
}

func (h *Handler) loadCH0041DelayScenario(ctx context.Context) error {
	// Rate rows are dated; the base price is the undated row. The 2026 rate is
	// quoted after the base and must not replace it.
	// 2024 admission, 3 days × 50000 = 150000.
	if err := h.importCatalog(ctx, factory.CatalogJSON{
		Rules: []factory.GrdRuleJSON{
			rule("051023", "Infarto agudo de miocardio", 1.8, 3, 12, 6, 9),
		},
		Prices: []factory.PriceEntryJSON{
			{Agreement: grd.AgreementCH0041, EffectiveStart: "2024-01-01", EffectiveEnd: "2024-12-31", Price: num(50000), CreatedAt: "2024-01-02T00:00:00Z"},
			{Agreement: grd.AgreementCH0041, EffectiveStart: "2025-01-01", EffectiveEnd: "2025-12-31", Price: num(55000), CreatedAt: "2024-12-15T00:00:00Z"},
			{Agreement: grd.AgreementCH0041, Price: num(1500000), CreatedAt: "2024-12-20T00:00:00Z"},
			{Agreement: grd.AgreementCH0041, EffectiveStart: "2026-01-01", Price: num(60000), CreatedAt: "2025-12-01T00:00:00Z"},
		},
	}); err != nil {
		return err
	}
	if err := h.savePatients(ctx, "pat-101", "pat-102"); err != nil {
		return err
	}

	return h.createEpisodes(ctx,
		factory.EpisodeJSON{
			ID: "ep-delay-2024", PatientID: "pat-101", AgreementCode: grd.AgreementCH0041,
			AdmissionDate: "2024-06-10", DischargeDate: "2024-06-18",
			GrdCode: "051023", GroupWeight: num(1.8), DelayDays: 3,
		},
		factory.EpisodeJSON{
			ID: "ep-delay-2025", PatientID: "pat-102", AgreementCode: grd.AgreementCH0041,
			AdmissionDate: "2025-02-03", DischargeDate: "2025-02-10",
			GrdCode: "051023", GroupWeight: num(1.8), DelayDays: 2,
		},
	)
}

func (h *Handler) loadFonasaDelayScenario(ctx context.Context) error {
	// weight 1.2 lands in T1 (90000): delay = 1.2 × 90000 / 8 × 2 = 27000.
	if err := h.importCatalog(ctx, factory.CatalogJSON{
		Rules: []factory.GrdRuleJSON{
			rule("071012", "Colecistectomia", 1.2, 1, 6, 3, 8),
		},
		Prices: fonasaTiers(grd.AgreementFNS019, 90000, 120000, 160000),
	}); err != nil {
		return err
	}
	if err := h.savePatients(ctx, "pat-201"); err != nil {
		return err
	}

	return h.createEpisodes(ctx,
		factory.EpisodeJSON{
			ID: "ep-fonasa-delay", PatientID: "pat-201", AgreementCode: grd.AgreementFNS019,
			AdmissionDate: "2024-08-12", DischargeDate: "2024-08-16",
			GrdCode: "071012", GroupWeight: num(1.2), DelayDays: 2,
		},
	)
}

func (h *Handler) loadOverrideReviewScenario(ctx context.Context) error {
	if err := h.importCatalog(ctx, factory.CatalogJSON{
		Rules: []factory.GrdRuleJSON{
			rule("141013", "Trasplante renal", 3.1, 4, 20, 9, 14),
		},
		Prices: fonasaTiers(grd.AgreementFNS026, 95000, 130000, 175000),
	}); err != nil {
		return err
	}
	if err := h.savePatients(ctx, "pat-301", "pat-302"); err != nil {
		return err
	}

	return h.createEpisodes(ctx,
		factory.EpisodeJSON{
			ID: "ep-override-final", PatientID: "pat-301", AgreementCode: grd.AgreementFNS026,
			AdmissionDate: "2024-05-02", DischargeDate: "2024-05-20",
			GrdCode: "141013", GroupWeight: num(3.1),
			OutsideNormalGroup: true,
			Overrides:          &factory.OverridesJSON{FinalAmount: num(620000)},
		},
		factory.EpisodeJSON{
			ID: "ep-override-group", PatientID: "pat-302", AgreementCode: grd.AgreementFNS026,
			AdmissionDate: "2024-05-10", DischargeDate: "2024-05-22",
			GrdCode: "141013", GroupWeight: num(3.1),
			OutsideNormalGroup: true,
			Overrides:          &factory.OverridesJSON{GroupValue: num(500000)},
			Validation:         string(grd.ValidationApproved),
		},
	)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) importCatalog(ctx context.Context, cj factory.CatalogJSON) error {
	catalog, err := h.Catalog.FromJSON(cj)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	_, err = h.Service.ImportCatalog(ctx, catalog)
	return err
}

func (h *Handler) savePatients(ctx context.Context, ids ...string) error {
	for i, id := range ids {
		p := grd.Patient{
			ID:         generic.PatientID(id),
			DocumentID: fmt.Sprintf("1%07d-%d", i+1, (i+1)%10),
			Name:       fmt.Sprintf("Paciente %s", id),
		}
		if _, err := h.Service.SavePatient(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createEpisodes(ctx context.Context, eps ...factory.EpisodeJSON) error {
	for _, ej := range eps {
		ep, err := h.Catalog.EpisodeFromJSON(ej)
		if err != nil {
			return fmt.Errorf("episode %s: %w", ej.ID, err)
		}
		if _, err := h.Service.CreateEpisode(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

func rule(code, description string, weight, lower, upper, p50, p75 float64) factory.GrdRuleJSON {
	return factory.GrdRuleJSON{
		Code:         code,
		Description:  description,
		Weight:       num(weight),
		LowerCutoff:  num(lower),
		UpperCutoff:  num(upper),
		Percentile50: num(p50),
		Percentile75: num(p75),
	}
}

func fonasaTiers(agreement string, t1, t2, t3 float64) []factory.PriceEntryJSON {
	return []factory.PriceEntryJSON{
		{Agreement: agreement, Tier: string(grd.Tier1), Price: num(t1)},
		{Agreement: agreement, Tier: string(grd.Tier2), Price: num(t2)},
		{Agreement: agreement, Tier: string(grd.Tier3), Price: num(t3)},
	}
}

func num(f float64) *float64 { return &f }
