package http

import (
	"net/http"

	"github.com/chainwright/chainwright/internal/service"
)

// SubmitFeedback handles POST /api/v1/requests/{id}/feedback. Answers bind
// open critique questions into the plan; a refined query regenerates the
// plan from scratch. Either way the response carries the fresh critique and
// the plan version it scored.
func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	body, ok := readJSON[service.FeedbackRequest](w, r, h.MaxBodySize)
	if !ok {
		return
	}
	res, err := h.Coordinator.Feedback(r.Context(), id, body)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResumeRequest handles POST /api/v1/requests/{id}/resume, continuing a
// request paused on a review or escalate decision. Execution proceeds
// asynchronously; progress is observable through the trail.
func (h *Handlers) ResumeRequest(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Coordinator.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	writeJSON(w, http.StatusAccepted, h.withPauseInfo(rc))
}
