package tiered_test

import (
	"context"
	"testing"
	"time"

	"github.com/chainwright/chainwright/internal/adapter/tiered"
	cacheport "github.com/chainwright/chainwright/internal/port/cache"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memCache) Close() error { return nil }

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Present only in L1
	l1.data["req-1/plan/1"] = []byte("v1")

	val, found, err := c.Get(ctx, "req-1/plan/1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %s", val)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Present only in L2
	l2.data["req-1/critique/2"] = []byte("v2")

	val, found, err := c.Get(ctx, "req-1/critique/2")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "v2" {
		t.Fatalf("expected v2, got %s", val)
	}

	// Verify backfill into L1
	if _, ok := l1.data["req-1/critique/2"]; !ok {
		t.Fatal("expected L1 backfill after L2 hit")
	}
}

func TestTiered_MissBothLevels(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), 5*time.Minute)

	_, found, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_SetWritesBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; !ok {
		t.Error("expected L1 write")
	}
	if _, ok := l2.data["k"]; !ok {
		t.Error("expected L2 write")
	}
}

func TestTiered_DeleteRemovesBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l1.data["k"] = []byte("v")
	l2.data["k"] = []byte("v")

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; ok {
		t.Error("expected L1 delete")
	}
	if _, ok := l2.data["k"]; ok {
		t.Error("expected L2 delete")
	}
}

var _ cacheport.Cache = (*tiered.Cache)(nil)
