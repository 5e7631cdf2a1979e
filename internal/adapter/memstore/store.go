// Package memstore provides in-memory implementations of the artifact
// store and event log ports. It backs the "memory" storage driver and
// the service test suites.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/request"
)

type slotKey struct {
	requestID string
	kind      artifact.Kind
}

// Store implements artifactstore.Store with process-local maps.
type Store struct {
	mu        sync.RWMutex
	requests  map[string]*request.RequestContext
	artifacts map[slotKey][]artifact.Record // ascending by version
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		requests:  make(map[string]*request.RequestContext),
		artifacts: make(map[slotKey][]artifact.Record),
	}
}

// --- Requests ---

func (s *Store) CreateRequest(_ context.Context, rc *request.RequestContext) (*request.RequestContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[rc.RequestID]; exists {
		return nil, fmt.Errorf("create request %s: %w", rc.RequestID, domain.ErrDuplicateRequest)
	}

	stored := rc.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.requests[rc.RequestID] = stored
	return stored.Clone(), nil
}

func (s *Store) GetRequest(_ context.Context, requestID string) (*request.RequestContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rc, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("get request %s: %w", requestID, domain.ErrNotFound)
	}
	return rc.Clone(), nil
}

func (s *Store) ListRequests(_ context.Context) ([]request.RequestContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]request.RequestContext, 0, len(s.requests))
	for _, rc := range s.requests {
		out = append(out, *rc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateRequestStatus(_ context.Context, requestID string, status request.Status, failReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("update request status %s: %w", requestID, domain.ErrNotFound)
	}
	rc.Status = status
	rc.FailReason = failReason
	rc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendAgent(_ context.Context, requestID string, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("append agent to request %s: %w", requestID, domain.ErrNotFound)
	}
	rc.AgentChain = append(rc.AgentChain, agentName)
	rc.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Artifacts ---

func (s *Store) Append(_ context.Context, rec *artifact.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{rec.RequestID, rec.Kind}
	for _, existing := range s.artifacts[key] {
		if existing.Version != rec.Version {
			continue
		}
		if existing.Digest == rec.Digest {
			return nil
		}
		return fmt.Errorf("append artifact %s: %w", rec.Key(), domain.ErrVersionConflict)
	}

	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	recs := append(s.artifacts[key], stored)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Version < recs[j].Version })
	s.artifacts[key] = recs
	return nil
}

func (s *Store) Get(_ context.Context, requestID string, kind artifact.Kind, version int) (*artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.artifacts[slotKey{requestID, kind}] {
		if rec.Version == version {
			out := rec
			return &out, nil
		}
	}
	return nil, fmt.Errorf("get artifact %s/%s/v%d: %w", requestID, kind, version, domain.ErrNotFound)
}

func (s *Store) Current(_ context.Context, requestID string, kind artifact.Kind) (*artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.artifacts[slotKey{requestID, kind}]
	if len(recs) == 0 {
		return nil, fmt.Errorf("current artifact %s/%s: %w", requestID, kind, domain.ErrNotFound)
	}
	out := recs[len(recs)-1]
	return &out, nil
}

func (s *Store) Versions(_ context.Context, requestID string, kind artifact.Kind) ([]artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.artifacts[slotKey{requestID, kind}]
	out := make([]artifact.Record, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *Store) MaxVersion(_ context.Context, requestID string, kind artifact.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.artifacts[slotKey{requestID, kind}]
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Version, nil
}

// --- Admin ---

func (s *Store) CountArtifacts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, recs := range s.artifacts {
		n += int64(len(recs))
	}
	return n, nil
}

// ClearRequest purges the request record and its artifact trail.
func (s *Store) ClearRequest(_ context.Context, requestID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, recs := range s.artifacts {
		if key.requestID == requestID {
			removed += int64(len(recs))
			delete(s.artifacts, key)
		}
	}
	delete(s.requests, requestID)
	return removed, nil
}

func (s *Store) Ping(context.Context) error { return nil }
