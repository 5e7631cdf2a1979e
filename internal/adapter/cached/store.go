// Package cached wraps an artifact store with a read-through cache for
// immutable version reads.
package cached

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/port/artifactstore"
	"github.com/chainwright/chainwright/internal/port/cache"
)

// Store decorates an artifactstore.Store with caching on Get. Only
// (request_id, kind, version) reads are cached: a stored version never
// changes, so entries only go stale when a request is purged, and those
// age out with the TTL. Current and MaxVersion always hit the backing
// store; version allocation must see the latest trail.
type Store struct {
	artifactstore.Store

	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps inner with the given cache. Cache failures degrade to direct
// store reads and are logged at debug level.
func New(inner artifactstore.Store, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		Store:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(requestID string, kind artifact.Kind, version int) string {
	return fmt.Sprintf("%s/%s/%d", requestID, kind, version)
}

// Get returns the cached record when present, falling back to the store
// and populating the cache on the way out.
func (s *Store) Get(ctx context.Context, requestID string, kind artifact.Kind, version int) (*artifact.Record, error) {
	key := cacheKey(requestID, kind, version)

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var rec artifact.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			return &rec, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		_ = s.cache.Delete(ctx, key)
	} else if err != nil {
		s.logger.Debug("artifact cache read failed", "key", key, "error", err)
	}

	rec, err := s.Store.Get(ctx, requestID, kind, version)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rec); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Debug("artifact cache write failed", "key", key, "error", err)
		}
	}
	return rec, nil
}

var _ artifactstore.Store = (*Store)(nil)
