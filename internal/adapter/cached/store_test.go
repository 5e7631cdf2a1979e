package cached_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/chainwright/chainwright/internal/adapter/cached"
	"github.com/chainwright/chainwright/internal/adapter/memstore"
	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/request"
)

// countingCache tracks hits and misses around an in-memory map.
type countingCache struct {
	data map[string][]byte
	gets int
	sets int
}

func newCountingCache() *countingCache {
	return &countingCache{data: make(map[string][]byte)}
}

func (c *countingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.gets++
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.sets++
	c.data[key] = value
	return nil
}

func (c *countingCache) Delete(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func (c *countingCache) Close() error { return nil }

func setup(t *testing.T) (*cached.Store, *memstore.Store, *countingCache) {
	t.Helper()
	inner := memstore.NewStore()
	cc := newCountingCache()
	logger := slog.New(slog.DiscardHandler)
	s := cached.New(inner, cc, time.Minute, logger)

	_, err := inner.CreateRequest(context.Background(), &request.RequestContext{
		RequestID: "req-1",
		UserQuery: "plan a delivery",
		Status:    request.StatusPending,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return s, inner, cc
}

func TestGet_PopulatesCacheOnMiss(t *testing.T) {
	s, inner, cc := setup(t)
	ctx := context.Background()

	rec, err := artifact.NewRecord("req-1", artifact.KindPlan, 1, map[string]string{"goal": "deliver"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := inner.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Get(ctx, "req-1", artifact.KindPlan, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Digest != rec.Digest {
		t.Errorf("digest mismatch")
	}
	if cc.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cc.sets)
	}

	// Second read is served from cache: same record, one more cache get,
	// no extra set.
	again, err := s.Get(ctx, "req-1", artifact.KindPlan, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Digest != rec.Digest {
		t.Errorf("digest mismatch on cached read")
	}
	if cc.sets != 1 {
		t.Errorf("cache sets after hit = %d, want 1", cc.sets)
	}
}

func TestGet_MissingStaysNotFound(t *testing.T) {
	s, _, _ := setup(t)
	_, err := s.Get(context.Background(), "req-1", artifact.KindPlan, 9)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_CorruptEntryFallsThrough(t *testing.T) {
	s, inner, cc := setup(t)
	ctx := context.Background()

	rec, err := artifact.NewRecord("req-1", artifact.KindThought, 1, map[string]string{"approach": "direct"})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := inner.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	cc.data["req-1/thought/1"] = []byte("{not json")

	got, err := s.Get(ctx, "req-1", artifact.KindThought, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Digest != rec.Digest {
		t.Errorf("expected store record after corrupt cache entry")
	}
}

func TestCurrent_BypassesCache(t *testing.T) {
	s, inner, cc := setup(t)
	ctx := context.Background()

	for v := 1; v <= 2; v++ {
		rec, err := artifact.NewRecord("req-1", artifact.KindCritique, v, map[string]int{"v": v})
		if err != nil {
			t.Fatalf("new record: %v", err)
		}
		if err := inner.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	gotsBefore := cc.gets
	current, err := s.Current(ctx, "req-1", artifact.KindCritique)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Version != 2 {
		t.Errorf("current version = %d, want 2", current.Version)
	}
	if cc.gets != gotsBefore {
		t.Errorf("Current consulted the cache; moving reads must not")
	}

	max, err := s.MaxVersion(ctx, "req-1", artifact.KindCritique)
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 2 {
		t.Errorf("max = %d, want 2", max)
	}
	if cc.gets != gotsBefore {
		t.Errorf("MaxVersion consulted the cache; allocation reads must not")
	}
}
