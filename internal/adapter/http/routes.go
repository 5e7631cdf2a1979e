package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chainwright/chainwright/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router. The
// idempotency middleware guards only the submit route; nil skips it when no
// key-value bucket is configured. A nil hub leaves /ws unregistered.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub, idem func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Requests
		if idem != nil {
			r.With(idem).Post("/requests", h.SubmitRequest)
		} else {
			r.Post("/requests", h.SubmitRequest)
		}
		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)

		// Audit trail
		r.Get("/requests/{id}/trace", h.GetTrace)
		r.Get("/requests/{id}/trace/stats", h.GetTrailStats)

		// Plan versions
		r.Get("/requests/{id}/plans", h.ListPlans)
		r.Get("/requests/{id}/plans/current", h.GetCurrentPlan)
		r.Get("/requests/{id}/plans/{version}", h.GetPlanVersion)

		// Critique versions
		r.Get("/requests/{id}/critiques", h.ListCritiques)
		r.Get("/requests/{id}/critiques/current", h.GetCurrentCritique)

		// Routing decision
		r.Get("/requests/{id}/confidence", h.GetConfidence)

		// Human-in-the-loop
		r.Post("/requests/{id}/feedback", h.SubmitFeedback)
		r.Post("/requests/{id}/resume", h.ResumeRequest)

		// Admin
		r.Get("/admin/artifacts/count", h.CountArtifacts)
		r.Delete("/admin/artifacts", h.PurgeArtifacts)
	})
}
