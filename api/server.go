/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the review frontend

ROUTE GROUPS:
  /api/episodes/*       Episode management and recalculation
  /api/grd-rules/*      GRD catalog
  /api/prices           Agreement price quotations
  /api/catalog/import   Bulk catalog import
  /api/patients/*       Patients
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Admin operations
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind
  the hospital's gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/grdengine/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/episodes", func(r chi.Router) {
			r.Get("/", h.ListEpisodes)
			r.Post("/", h.CreateEpisode)
			r.Get("/{id}", h.GetEpisode)
			r.Patch("/{id}", h.UpdateEpisode)
			r.Delete("/{id}", h.DeleteEpisode)
			r.Post("/{id}/validation", h.SetValidation)
		})

		r.Route("/grd-rules", func(r chi.Router) {
			r.Get("/", h.ListGrdRules)
			r.Get("/{code}", h.GetGrdRule)
			r.Put("/{code}", h.PutGrdRule)
		})

		r.Route("/prices", func(r chi.Router) {
			r.Get("/", h.ListPrices)
			r.Post("/", h.CreatePrice)
		})

		r.Post("/catalog/import", h.ImportCatalog)

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", h.CreatePatient)
			r.Get("/{id}", h.GetPatient)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/recalculate", h.Recalculate)
			r.Get("/recalculate/status", h.RecalculationStatus)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
