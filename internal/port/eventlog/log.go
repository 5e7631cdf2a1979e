// Package eventlog defines the port interface for the append-only
// pipeline event trail.
package eventlog

import (
	"context"

	"github.com/chainwright/chainwright/internal/domain/event"
)

// TrailSummary contains aggregate stats for one request's trail.
type TrailSummary struct {
	TotalEvents int            `json:"total_events"`
	EventCounts map[string]int `json:"event_counts"`
	DurationMS  int64          `json:"duration_ms"`
	StageCount  int            `json:"stage_count"`
	ErrorCount  int            `json:"error_count"`
}

// Log is the port interface for appending and loading pipeline events.
type Log interface {
	// Append persists a new event, assigning the next per-request Seq.
	Append(ctx context.Context, ev *event.PipelineEvent) error

	// LoadByRequest returns all events for the request, ordered by Seq.
	LoadByRequest(ctx context.Context, requestID string) ([]event.PipelineEvent, error)

	// LoadTrail returns a cursor-paginated page of a request's events
	// with optional filtering.
	LoadTrail(ctx context.Context, requestID string, f event.Filter, cursor string, limit int) (*event.Page, error)

	// TrailStats returns aggregate statistics for a request's trail.
	TrailStats(ctx context.Context, requestID string) (*TrailSummary, error)
}
