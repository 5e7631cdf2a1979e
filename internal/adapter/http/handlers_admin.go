package http

import (
	"net/http"
)

// Health handles GET /health. Degrades to 503 when the artifact store is
// unreachable; the pipeline cannot accept work without it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status string `json:"status"`
		Store  string `json:"store"`
	}
	status := healthStatus{Status: "ok", Store: "ok"}
	code := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		status.Status = "degraded"
		status.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// CountArtifacts handles GET /api/v1/admin/artifacts/count.
func (h *Handlers) CountArtifacts(w http.ResponseWriter, r *http.Request) {
	count, err := h.Store.CountArtifacts(r.Context())
	if err != nil {
		writeDomainError(w, err, "count artifacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// PurgeArtifacts handles DELETE /api/v1/admin/artifacts?request_id=. It
// purges the request and its whole artifact trail; purging everything at
// once is a CLI operation.
func (h *Handlers) PurgeArtifacts(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id query parameter is required")
		return
	}
	deleted, err := h.Store.ClearRequest(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err, "purge artifacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "deleted": deleted})
}
