package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainwright/chainwright/internal/adapter/postgres"
	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/domain/request"
)

// setupPool runs all migrations and returns a ready pool.
// The pool is closed via t.Cleanup.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func newRequestID() string {
	return "req-" + uuid.NewString()[:8]
}

func createRequest(t *testing.T, store *postgres.Store, id string) *request.RequestContext {
	t.Helper()
	rc := &request.RequestContext{
		RequestID: id,
		UserQuery: "schedule a shipment of lithium batteries",
		Status:    request.StatusPending,
	}
	created, err := store.CreateRequest(context.Background(), rc)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return created
}

func TestStore_RequestLifecycle(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	ctx := context.Background()
	id := newRequestID()

	created := createRequest(t, store, id)
	if created.CreatedAt.IsZero() {
		t.Error("expected server-assigned created_at")
	}

	// Duplicate create must fail.
	_, err := store.CreateRequest(ctx, &request.RequestContext{
		RequestID: id,
		UserQuery: "another query",
		Status:    request.StatusPending,
	})
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// Status transition and agent chain.
	if err := store.UpdateRequestStatus(ctx, id, request.StatusInProgress, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := store.AppendAgent(ctx, id, "complexity-detector"); err != nil {
		t.Fatalf("append agent: %v", err)
	}
	if err := store.AppendAgent(ctx, id, "thought-generator"); err != nil {
		t.Fatalf("append agent: %v", err)
	}

	got, err := store.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusInProgress {
		t.Errorf("status = %s, want in-progress", got.Status)
	}
	if len(got.AgentChain) != 2 || got.AgentChain[1] != "thought-generator" {
		t.Errorf("agent chain = %v", got.AgentChain)
	}
}

func TestStore_GetRequestNotFound(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	_, err := store.GetRequest(context.Background(), "req-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ArtifactVersioning(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	ctx := context.Background()
	id := newRequestID()
	createRequest(t, store, id)

	rec, err := artifact.NewRecord(id, artifact.KindThought, 1, map[string]string{"approach": "direct"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Identical replay is a no-op.
	replay, err := artifact.NewRecord(id, artifact.KindThought, 1, map[string]string{"approach": "direct"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := store.Append(ctx, replay); err != nil {
		t.Fatalf("idempotent append should succeed, got %v", err)
	}

	// Different content for the same slot conflicts.
	clash, err := artifact.NewRecord(id, artifact.KindThought, 1, map[string]string{"approach": "staged"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := store.Append(ctx, clash); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Second version lands next to the first.
	v2, err := artifact.NewRecord(id, artifact.KindThought, 2, map[string]string{"approach": "staged"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := store.Append(ctx, v2); err != nil {
		t.Fatalf("append v2: %v", err)
	}

	max, err := store.MaxVersion(ctx, id, artifact.KindThought)
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 2 {
		t.Errorf("max version = %d, want 2", max)
	}

	current, err := store.Current(ctx, id, artifact.KindThought)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Version != 2 {
		t.Errorf("current version = %d, want 2", current.Version)
	}

	versions, err := store.Versions(ctx, id, artifact.KindThought)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Errorf("unexpected versions: %+v", versions)
	}
}

func TestStore_MaxVersionEmpty(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	ctx := context.Background()
	id := newRequestID()
	createRequest(t, store, id)

	max, err := store.MaxVersion(ctx, id, artifact.KindPlan)
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 0 {
		t.Errorf("max version with no artifacts = %d, want 0", max)
	}
}

func TestStore_ClearRequest(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	ctx := context.Background()
	id := newRequestID()
	createRequest(t, store, id)

	for v := 1; v <= 3; v++ {
		rec, err := artifact.NewRecord(id, artifact.KindPlan, v, map[string]int{"v": v})
		if err != nil {
			t.Fatalf("new record: %v", err)
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	removed, err := store.ClearRequest(ctx, id)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	max, err := store.MaxVersion(ctx, id, artifact.KindPlan)
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 0 {
		t.Errorf("max version after clear = %d, want 0", max)
	}

	if _, err := store.GetRequest(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected purged request gone, got %v", err)
	}
}

func TestEventLog_AppendAssignsSeq(t *testing.T) {
	pool := setupPool(t)
	log := postgres.NewEventLog(pool)
	ctx := context.Background()
	id := newRequestID()

	for i, typ := range []event.Type{event.TypeRequestCreated, event.TypeStageStarted, event.TypeStageCompleted} {
		ev, err := event.New(id, typ, "planner", nil)
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
		if ev.Seq != i+1 {
			t.Errorf("seq = %d, want %d", ev.Seq, i+1)
		}
	}

	events, err := log.LoadByRequest(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
}

func TestEventLog_TrailPagination(t *testing.T) {
	pool := setupPool(t)
	log := postgres.NewEventLog(pool)
	ctx := context.Background()
	id := newRequestID()

	for range 5 {
		ev, err := event.New(id, event.TypeStageCompleted, "critic", nil)
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := log.LoadTrail(ctx, id, event.Filter{}, "", 2)
	if err != nil {
		t.Fatalf("load trail: %v", err)
	}
	if len(page.Events) != 2 || !page.HasMore || page.Total != 5 {
		t.Fatalf("page 1: events=%d hasMore=%v total=%d", len(page.Events), page.HasMore, page.Total)
	}

	page2, err := log.LoadTrail(ctx, id, event.Filter{}, page.Cursor, 10)
	if err != nil {
		t.Fatalf("load trail page 2: %v", err)
	}
	if len(page2.Events) != 3 || page2.HasMore {
		t.Fatalf("page 2: events=%d hasMore=%v", len(page2.Events), page2.HasMore)
	}
	if page2.Events[0].Seq != 3 {
		t.Errorf("page 2 starts at seq %d, want 3", page2.Events[0].Seq)
	}
}

func TestEventLog_TrailStats(t *testing.T) {
	pool := setupPool(t)
	log := postgres.NewEventLog(pool)
	ctx := context.Background()
	id := newRequestID()

	types := []event.Type{
		event.TypeRequestCreated,
		event.TypeStageCompleted,
		event.TypeStageCompleted,
		event.TypeStageFailed,
	}
	for _, typ := range types {
		ev, err := event.New(id, typ, "", nil)
		if err != nil {
			t.Fatalf("new event: %v", err)
		}
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stats, err := log.TrailStats(ctx, id)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEvents != 4 {
		t.Errorf("total = %d, want 4", stats.TotalEvents)
	}
	if stats.StageCount != 2 {
		t.Errorf("stages = %d, want 2", stats.StageCount)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("errors = %d, want 1", stats.ErrorCount)
	}
}
