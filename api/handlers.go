/*
handlers.go - HTTP API handlers for the GRD reimbursement engine

PURPOSE:
  Exposes episode recalculation and the reference catalog via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  grd.Service.

ENDPOINTS:
  Episodes:
    GET    /api/episodes                  List episodes (recalculated)
    POST   /api/episodes                  Create episode
    GET    /api/episodes/{id}             Get episode (recalculated)
    PATCH  /api/episodes/{id}             Partial edit, recomputes all derived fields
    DELETE /api/episodes/{id}             Delete episode
    POST   /api/episodes/{id}/validation  Record review outcome

  Catalog:
    GET    /api/grd-rules                 List GRD rules
    GET    /api/grd-rules/{code}          Get GRD rule
    PUT    /api/grd-rules/{code}          Create or replace GRD rule
    GET    /api/prices?agreement=FNS012   List price quotations
    POST   /api/prices                    Add price quotation
    POST   /api/catalog/import            Bulk import rules and prices

  Patients:
    POST   /api/patients                  Create patient
    GET    /api/patients/{id}             Get patient

  Admin:
    POST   /api/admin/recalculate         Recalculate every episode now
    GET    /api/admin/recalculate/status  Last and next scheduled run

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    GET    /api/scenarios/current         Currently loaded scenario
    POST   /api/scenarios/load            Load a demo scenario
    POST   /api/scenarios/reset           Clear all data

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, non-finite numbers, overrides not allowed
  - 404: Episode, GRD rule or patient not found
  - 409: Version conflict, duplicate id
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/grd-engine/factory"
	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
	"github.com/warp/grd-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *grd.Service
	Store   *sqlite.Store
	Catalog *factory.CatalogFactory
	Log     zerolog.Logger

	// Workers used by POST /api/admin/recalculate.
	Workers int

	// Scheduler, when set, runs manual recalculations so its statistics
	// include them.
	Scheduler *RecalculationScheduler

	// Track currently loaded scenario
	scenarioMu      sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler over the given store and service.
func NewHandler(store *sqlite.Store, svc *grd.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Service: svc,
		Store:   store,
		Catalog: factory.NewCatalogFactory(),
		Log:     log,
		Workers: 4,
	}
}

// =============================================================================
// EPISODE HANDLERS
// =============================================================================

// ListEpisodes returns episodes matching the query filters.
func (h *Handler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := grd.EpisodeFilter{
		AgreementCode: q.Get("agreement"),
		GrdCode:       q.Get("grd"),
		PatientID:     generic.PatientID(q.Get("patient")),
	}
	if v := q.Get("validation"); v != "" {
		status, ok := grd.ParseValidationStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid validation filter", nil)
			return
		}
		filter.Validation = status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	views, err := h.Service.ListEpisodes(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "Failed to list episodes", err)
		return
	}

	dtos := make([]EpisodeDTO, len(views))
	for i, v := range views {
		dtos[i] = toEpisodeDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEpisode returns a single episode with freshly computed values.
func (h *Handler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id := generic.EpisodeID(chi.URLParam(r, "id"))

	view, err := h.Service.GetEpisode(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get episode", err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeDTO(*view))
}

// CreateEpisode creates an episode and computes its derived fields.
func (h *Handler) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req factory.EpisodeJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ep, err := h.Catalog.EpisodeFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid episode", err)
		return
	}

	view, err := h.Service.CreateEpisode(r.Context(), ep)
	if err != nil {
		h.writeServiceError(w, "Failed to create episode", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEpisodeDTO(*view))
}

// UpdateEpisode applies a partial edit. The expected version may come from
// the body ("version") or an If-Match header.
func (h *Handler) UpdateEpisode(w http.ResponseWriter, r *http.Request) {
	id := generic.EpisodeID(chi.URLParam(r, "id"))

	var req factory.EpisodePatchJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Version == nil {
		if v := strings.Trim(r.Header.Get("If-Match"), `" `); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid If-Match header", err)
				return
			}
			req.Version = &n
		}
	}

	update, err := h.Catalog.EpisodeUpdateFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid episode update", err)
		return
	}

	view, err := h.Service.UpdateEpisode(r.Context(), id, update)
	if err != nil {
		h.writeServiceError(w, "Failed to update episode", err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeDTO(*view))
}

// DeleteEpisode removes an episode.
func (h *Handler) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	id := generic.EpisodeID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteEpisode(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to delete episode", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetValidation records the review outcome of an episode.
func (h *Handler) SetValidation(w http.ResponseWriter, r *http.Request) {
	id := generic.EpisodeID(chi.URLParam(r, "id"))

	var req SetValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status, ok := grd.ParseValidationStatus(req.Status)
	if !ok || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status must be pending, approved or rejected", nil)
		return
	}

	view, err := h.Service.SetValidation(r.Context(), id, status)
	if err != nil {
		h.writeServiceError(w, "Failed to set validation", err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeDTO(*view))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListGrdRules returns all GRD rules.
func (h *Handler) ListGrdRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Service.Repo.ListGrdRules(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list GRD rules", err)
		return
	}

	dtos := make([]GrdRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toGrdRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGrdRule returns a single GRD rule.
func (h *Handler) GetGrdRule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	rule, err := h.Service.Repo.GetGrdRule(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, "Failed to get GRD rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toGrdRuleDTO(*rule))
}

// PutGrdRule creates or replaces a GRD rule. The path code wins over the body.
func (h *Handler) PutGrdRule(w http.ResponseWriter, r *http.Request) {
	var req factory.GrdRuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Code = chi.URLParam(r, "code")

	rule, err := h.Catalog.RuleFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid GRD rule", err)
		return
	}

	saved, err := h.Service.UpsertGrdRule(r.Context(), rule)
	if err != nil {
		h.writeServiceError(w, "Failed to save GRD rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toGrdRuleDTO(saved))
}

// ListPrices returns price quotations, optionally for one agreement.
func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.Service.Repo.ListPriceEntries(r.Context(), r.URL.Query().Get("agreement"))
	if err != nil {
		h.writeServiceError(w, "Failed to list prices", err)
		return
	}

	dtos := make([]PriceEntryDTO, len(prices))
	for i, p := range prices {
		dtos[i] = toPriceEntryDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePrice appends one price quotation.
func (h *Handler) CreatePrice(w http.ResponseWriter, r *http.Request) {
	var req factory.PriceEntryJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Catalog.PriceFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price entry", err)
		return
	}

	saved, err := h.Service.AddPriceEntry(r.Context(), entry)
	if err != nil {
		h.writeServiceError(w, "Failed to add price entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPriceEntryDTO(saved))
}

// ImportCatalog bulk-imports GRD rules and price quotations.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	var req factory.CatalogJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	catalog, err := h.Catalog.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}

	summary, err := h.Service.ImportCatalog(r.Context(), catalog)
	if err != nil {
		h.writeServiceError(w, "Failed to import catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, ImportSummaryDTO{Rules: summary.Rules, Prices: summary.Prices})
}

// =============================================================================
// PATIENT HANDLERS
// =============================================================================

// CreatePatient creates or replaces a patient.
func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	p := grd.Patient{
		ID:         generic.PatientID(strings.TrimSpace(req.ID)),
		DocumentID: strings.TrimSpace(req.DocumentID),
		Name:       strings.TrimSpace(req.Name),
	}
	if req.BirthDate != "" {
		p.BirthDate = generic.ParseDate(req.BirthDate)
		if p.BirthDate == nil {
			writeError(w, http.StatusBadRequest, "Invalid birth_date", nil)
			return
		}
	}

	saved, err := h.Service.SavePatient(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, "Failed to create patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPatientDTO(saved))
}

// GetPatient returns a single patient.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := generic.PatientID(chi.URLParam(r, "id"))

	p, err := h.Service.Repo.GetPatient(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get patient", err)
		return
	}
	writeJSON(w, http.StatusOK, toPatientDTO(*p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Recalculate refreshes every episode against the current catalog.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var (
		summary grd.RecalcSummary
		err     error
	)
	if h.Scheduler != nil {
		summary, err = h.Scheduler.RunNow(r.Context())
	} else {
		summary, err = h.Service.RecalculateAll(r.Context(), h.Workers)
	}
	if err != nil {
		h.writeServiceError(w, "Failed to recalculate episodes", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalcSummaryDTO(summary))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecalculationStatus reports the scheduler's last run and the next one.
func (h *Handler) RecalculationStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, RecalcStatusDTO{})
		return
	}
	last, at := h.Scheduler.LastRun()
	status := RecalcStatusDTO{
		Enabled:  h.Scheduler.Enabled,
		Interval: h.Scheduler.Interval.String(),
		Workers:  h.Scheduler.Workers,
		LastRun:  formatTimestamp(at),
	}
	if h.Scheduler.Enabled {
		status.NextRun = formatTimestamp(h.Scheduler.GetNextRunTime())
	}
	if !at.IsZero() {
		dto := toRecalcSummaryDTO(last)
		status.LastSummary = &dto
	}
	writeJSON(w, http.StatusOK, status)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsRetryable(err), errors.Is(err, generic.ErrDuplicateCode):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func toRecalcSummaryDTO(s grd.RecalcSummary) RecalcSummaryDTO {
	return RecalcSummaryDTO{
		Total:     s.Total,
		Updated:   s.Updated,
		Unchanged: s.Unchanged,
		Conflicts: s.Conflicts,
		Failed:    s.Failed,
	}
}
