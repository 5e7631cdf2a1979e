package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/chainwright/chainwright/internal/port/cache"
)

// RunComplianceTests runs the standard compliance test suite against any Cache implementation.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "req-1/plan/1", []byte(`{"goal":"ship"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "req-1/plan/1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"goal":"ship"}` {
			t.Fatalf("unexpected value: %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "req-none/plan/9")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for absent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "req-1/critique/1", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "req-1/critique/1"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "req-1/critique/1")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteAbsent", func(t *testing.T) {
		if err := c.Delete(ctx, "req-never/summary/1"); err != nil {
			t.Fatal("Delete of absent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "req-1/thought/1", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "req-1/thought/1", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "req-1/thought/1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}
