package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/port/eventlog"
)

// EventLog implements eventlog.Log with process-local slices.
type EventLog struct {
	mu     sync.RWMutex
	trails map[string][]event.PipelineEvent // ascending by seq
}

// NewEventLog creates an empty in-memory event log.
func NewEventLog() *EventLog {
	return &EventLog{trails: make(map[string][]event.PipelineEvent)}
}

// Append assigns the next per-request seq and stores ev.
func (l *EventLog) Append(_ context.Context, ev *event.PipelineEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trail := l.trails[ev.RequestID]
	ev.Seq = len(trail) + 1
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	l.trails[ev.RequestID] = append(trail, *ev)
	return nil
}

// LoadByRequest returns all events for the request, ordered by seq.
func (l *EventLog) LoadByRequest(_ context.Context, requestID string) ([]event.PipelineEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trail := l.trails[requestID]
	out := make([]event.PipelineEvent, len(trail))
	copy(out, trail)
	return out, nil
}

// LoadTrail returns a cursor-paginated page of a request's events.
func (l *EventLog) LoadTrail(_ context.Context, requestID string, f event.Filter, cursor string, limit int) (*event.Page, error) {
	if limit <= 0 {
		limit = 50
	}

	var afterSeq int
	if cursor != "" {
		seq, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, err
		}
		afterSeq = seq
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []event.PipelineEvent
	for _, ev := range l.trails[requestID] {
		if !f.Match(ev) {
			continue
		}
		matched = append(matched, ev)
	}

	var page []event.PipelineEvent
	for _, ev := range matched {
		if ev.Seq <= afterSeq {
			continue
		}
		page = append(page, ev)
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	var nextCursor string
	if hasMore && len(page) > 0 {
		nextCursor = strconv.Itoa(page[len(page)-1].Seq)
	}

	if page == nil {
		page = []event.PipelineEvent{}
	}
	return &event.Page{
		Events:  page,
		Cursor:  nextCursor,
		HasMore: hasMore,
		Total:   len(matched),
	}, nil
}

// TrailStats returns aggregate statistics for a request's trail.
func (l *EventLog) TrailStats(_ context.Context, requestID string) (*eventlog.TrailSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trail := l.trails[requestID]
	counts := make(map[string]int)
	var stages, errs int
	var first, last time.Time
	for i, ev := range trail {
		counts[string(ev.Type)]++
		switch ev.Type {
		case event.TypeStageCompleted:
			stages++
		case event.TypeStageFailed, event.TypeRequestFailed:
			errs++
		}
		if i == 0 {
			first = ev.CreatedAt
		}
		last = ev.CreatedAt
	}

	var durationMS int64
	if len(trail) > 1 {
		durationMS = last.Sub(first).Milliseconds()
	}

	return &eventlog.TrailSummary{
		TotalEvents: len(trail),
		EventCounts: counts,
		DurationMS:  durationMS,
		StageCount:  stages,
		ErrorCount:  errs,
	}, nil
}
