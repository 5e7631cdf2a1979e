package http

import (
	"net/http"
	"strconv"

	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/confidence"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/plan"
)

// requireRequest loads the request context or writes a 404.
func (h *Handlers) requireRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := urlParam(r, "id")
	if _, err := h.Tracker.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "request not found")
		return "", false
	}
	return id, true
}

// ListPlans handles GET /api/v1/requests/{id}/plans.
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRequest(w, r)
	if !ok {
		return
	}
	plans, err := h.Versioner.ListPlans(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "list plans")
		return
	}
	if plans == nil {
		plans = []plan.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// GetCurrentPlan handles GET /api/v1/requests/{id}/plans/current.
func (h *Handlers) GetCurrentPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRequest(w, r)
	if !ok {
		return
	}
	p, err := h.Versioner.CurrentPlan(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "no plan versions exist")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPlanVersion handles GET /api/v1/requests/{id}/plans/{version}.
func (h *Handlers) GetPlanVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRequest(w, r)
	if !ok {
		return
	}
	version, err := strconv.Atoi(urlParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	p, err := h.Versioner.PlanAt(r.Context(), id, version)
	if err != nil {
		writeDomainError(w, err, "plan version not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListCritiques handles GET /api/v1/requests/{id}/critiques.
func (h *Handlers) ListCritiques(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRequest(w, r)
	if !ok {
		return
	}
	crits, err := h.Versioner.ListCritiques(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "list critiques")
		return
	}
	if crits == nil {
		crits = []critique.Critique{}
	}
	writeJSON(w, http.StatusOK, crits)
}

// GetCurrentCritique handles GET /api/v1/requests/{id}/critiques/current.
func (h *Handlers) GetCurrentCritique(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRequest(w, r)
	if !ok {
		return
	}
	cr, err := h.Versioner.CurrentCritique(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "no critique versions exist")
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

// GetConfidence handles GET /api/v1/requests/{id}/confidence, returning the
// latest routing decision.
func (h *Handlers) GetConfidence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.Versioner.Current(r.Context(), id, artifact.KindConfidence)
	if err != nil {
		writeDomainError(w, err, "no routing decision exists")
		return
	}
	var cs confidence.ConfidenceScore
	if err := rec.Decode(&cs); err != nil {
		writeDomainError(w, err, "decode confidence score")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}
