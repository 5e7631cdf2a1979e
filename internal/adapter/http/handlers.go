package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/port/artifactstore"
	"github.com/chainwright/chainwright/internal/port/eventlog"
	"github.com/chainwright/chainwright/internal/service"
)

const (
	defaultMaxBodySize = 1 << 20 // 1 MB
	defaultTraceLimit  = 200
	maxTraceLimit      = 1000
)

// Handlers bundles the services behind the HTTP API.
type Handlers struct {
	Coordinator *service.Coordinator
	Tracker     *service.Tracker
	Versioner   *service.Versioner
	Events      eventlog.Log
	Store       artifactstore.Store
	MaxBodySize int64
}

// NewHandlers wires the API handlers.
func NewHandlers(
	co *service.Coordinator,
	tr *service.Tracker,
	ver *service.Versioner,
	events eventlog.Log,
	store artifactstore.Store,
) *Handlers {
	return &Handlers{
		Coordinator: co,
		Tracker:     tr,
		Versioner:   ver,
		Events:      events,
		Store:       store,
		MaxBodySize: defaultMaxBodySize,
	}
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

type submitRequestBody struct {
	Query     string `json:"query"`
	RequestID string `json:"request_id,omitempty"`
}

// requestResponse is a request context plus the coordinator's pause state,
// so clients can tell an actively running request from one awaiting a human.
type requestResponse struct {
	*request.RequestContext
	Paused *service.PauseInfo `json:"paused,omitempty"`
}

func (h *Handlers) withPauseInfo(rc *request.RequestContext) requestResponse {
	resp := requestResponse{RequestContext: rc}
	if info, ok := h.Coordinator.Paused(rc.RequestID); ok {
		resp.Paused = &info
	}
	return resp
}

// SubmitRequest handles POST /api/v1/requests. The pipeline runs
// asynchronously; the 202 body carries the opened request context.
func (h *Handlers) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[submitRequestBody](w, r, h.MaxBodySize)
	if !ok {
		return
	}
	rc, err := h.Coordinator.Submit(r.Context(), request.CreateRequest{
		RequestID: body.RequestID,
		UserQuery: body.Query,
	})
	if err != nil {
		writeDomainError(w, err, "submit request")
		return
	}
	writeJSON(w, http.StatusAccepted, h.withPauseInfo(rc))
}

// ListRequests handles GET /api/v1/requests.
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	rcs, err := h.Tracker.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "list requests")
		return
	}
	out := make([]requestResponse, 0, len(rcs))
	for i := range rcs {
		out = append(out, h.withPauseInfo(&rcs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRequest handles GET /api/v1/requests/{id}.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Tracker.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, h.withPauseInfo(rc))
}

// ---------------------------------------------------------------------------
// Trace
// ---------------------------------------------------------------------------

// traceResponse is the full audit view of one request: its context, every
// stored artifact version grouped by kind, and a page of the event trail.
type traceResponse struct {
	Request   requestResponse              `json:"request"`
	Artifacts map[string][]artifact.Record `json:"artifacts"`
	Trail     *event.Page                  `json:"trail"`
}

// GetTrace handles GET /api/v1/requests/{id}/trace. Trail filtering accepts
// types (comma separated), agent, cursor and limit query parameters.
func (h *Handlers) GetTrace(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	rc, err := h.Tracker.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}

	arts := make(map[string][]artifact.Record)
	for _, kind := range artifact.Kinds() {
		recs, err := h.Versioner.Versions(r.Context(), id, kind)
		if err != nil {
			writeDomainError(w, err, "load artifacts")
			return
		}
		if len(recs) > 0 {
			arts[string(kind)] = recs
		}
	}

	f := event.Filter{Agent: r.URL.Query().Get("agent")}
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types = append(f.Types, event.Type(t))
			}
		}
	}
	limit := defaultTraceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTraceLimit)
	}
	page, err := h.Events.LoadTrail(r.Context(), id, f, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeDomainError(w, err, "load trail")
		return
	}

	writeJSON(w, http.StatusOK, traceResponse{
		Request:   h.withPauseInfo(rc),
		Artifacts: arts,
		Trail:     page,
	})
}

// GetTrailStats handles GET /api/v1/requests/{id}/trace/stats.
func (h *Handlers) GetTrailStats(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.Tracker.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	stats, err := h.Events.TrailStats(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "trail stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
