// Package cache defines the port interface for caching artifact reads.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Implementations are
// best-effort: a miss or an expired entry is never an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
