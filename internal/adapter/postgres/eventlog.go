package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/port/eventlog"
)

// appendRetries bounds seq-allocation retries when concurrent appends
// race on the same request.
const appendRetries = 3

// EventLog implements eventlog.Log using PostgreSQL (append-only).
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates a new EventLog backed by the given connection pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append inserts ev into pipeline_events, assigning the next per-request seq.
func (l *EventLog) Append(ctx context.Context, ev *event.PipelineEvent) error {
	var lastErr error
	for range appendRetries {
		err := l.pool.QueryRow(ctx,
			`INSERT INTO pipeline_events (id, request_id, event_type, agent, payload, seq)
			 SELECT $1, $2, $3, $4, $5, COALESCE(MAX(seq), 0) + 1
			 FROM pipeline_events WHERE request_id = $2
			 RETURNING seq, created_at`,
			ev.ID, ev.RequestID, string(ev.Type), ev.Agent, ev.Payload).
			Scan(&ev.Seq, &ev.CreatedAt)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("append event %s: %w", ev.Type, err)
		}
		lastErr = err
	}
	return fmt.Errorf("append event %s: seq contention: %w", ev.Type, lastErr)
}

const eventColumns = `id, request_id, event_type, agent, payload, seq, created_at`

func scanEvent(sc scannable, ev *event.PipelineEvent) error {
	return sc.Scan(
		&ev.ID, &ev.RequestID, &ev.Type, &ev.Agent,
		&ev.Payload, &ev.Seq, &ev.CreatedAt,
	)
}

// LoadByRequest returns all events for the request, ordered by seq ascending.
func (l *EventLog) LoadByRequest(ctx context.Context, requestID string) ([]event.PipelineEvent, error) {
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM pipeline_events WHERE request_id = $1 ORDER BY seq ASC`, eventColumns),
		requestID)
	if err != nil {
		return nil, fmt.Errorf("load events for request %s: %w", requestID, err)
	}
	defer rows.Close()

	var events []event.PipelineEvent
	for rows.Next() {
		var ev event.PipelineEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return orEmpty(events), rows.Err()
}

// LoadTrail returns a cursor-paginated page of events for a request with
// optional filtering. The cursor is the seq of the last event on the
// previous page.
func (l *EventLog) LoadTrail(ctx context.Context, requestID string, f event.Filter, cursor string, limit int) (*event.Page, error) {
	if limit <= 0 {
		limit = 50
	}

	// Build dynamic WHERE clause.
	args := []any{requestID}
	conditions := []string{"request_id = $1"}
	argIdx := 2

	if cursor != "" {
		seq, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad trail cursor %q: %w", cursor, err)
		}
		conditions = append(conditions, fmt.Sprintf("seq > $%d", argIdx))
		args = append(args, seq)
		argIdx++
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", argIdx))
		args = append(args, types)
		argIdx++
	}
	if f.Agent != "" {
		conditions = append(conditions, fmt.Sprintf("agent = $%d", argIdx))
		args = append(args, f.Agent)
		argIdx++
	}
	if f.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIdx))
		args = append(args, *f.After)
		argIdx++
	}
	if f.Before != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *f.Before)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count total matching events.
	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM pipeline_events WHERE %s`, where)
	if err := l.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count trail events: %w", err)
	}

	// Fetch limit+1 to detect hasMore.
	fetchSQL := fmt.Sprintf(
		`SELECT %s FROM pipeline_events WHERE %s ORDER BY seq ASC LIMIT $%d`,
		eventColumns, where, argIdx)
	args = append(args, limit+1)

	rows, err := l.pool.Query(ctx, fetchSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("load trail: %w", err)
	}
	defer rows.Close()

	var events []event.PipelineEvent
	for rows.Next() {
		var ev event.PipelineEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan trail event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = strconv.Itoa(events[len(events)-1].Seq)
	}

	return &event.Page{
		Events:  orEmpty(events),
		Cursor:  nextCursor,
		HasMore: hasMore,
		Total:   total,
	}, nil
}

// TrailStats returns aggregate statistics for a request's trail.
func (l *EventLog) TrailStats(ctx context.Context, requestID string) (*eventlog.TrailSummary, error) {
	// Aggregate counts per event type in a single query.
	rows, err := l.pool.Query(ctx,
		`SELECT event_type, COUNT(*) FROM pipeline_events WHERE request_id = $1 GROUP BY event_type`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("trail stats counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	var total, stages, errs int
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan trail stat: %w", err)
		}
		counts[eventType] = count
		total += count
		switch eventType {
		case string(event.TypeStageCompleted):
			stages = count
		case string(event.TypeStageFailed), string(event.TypeRequestFailed):
			errs += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Duration: time between first and last event.
	var durationMS int64
	err = l.pool.QueryRow(ctx,
		`SELECT COALESCE(EXTRACT(EPOCH FROM (MAX(created_at) - MIN(created_at))) * 1000, 0)::bigint
		 FROM pipeline_events WHERE request_id = $1`, requestID).Scan(&durationMS)
	if err != nil {
		return nil, fmt.Errorf("trail duration: %w", err)
	}

	return &eventlog.TrailSummary{
		TotalEvents: total,
		EventCounts: counts,
		DurationMS:  durationMS,
		StageCount:  stages,
		ErrorCount:  errs,
	}, nil
}
