package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/port/artifactstore"
)

// Tracker owns the request lifecycle: it opens request contexts, appends to
// the agent chain as stages run, and moves requests through their status
// transitions. The coordinator is its only writer while a request is live.
type Tracker struct {
	store  artifactstore.Store
	logger *slog.Logger
}

// NewTracker creates a Tracker over the artifact store.
func NewTracker(store artifactstore.Store, log *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: log}
}

// Create opens a new request context in status pending. A caller-supplied
// request ID that already exists yields domain.ErrDuplicateRequest from the
// store; an empty one is generated.
func (t *Tracker) Create(ctx context.Context, req request.CreateRequest) (*request.RequestContext, error) {
	if strings.TrimSpace(req.UserQuery) == "" {
		return nil, fmt.Errorf("user_query is required: %w", domain.ErrValidation)
	}
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	rc := &request.RequestContext{
		RequestID:  id,
		UserQuery:  req.UserQuery,
		AgentChain: []string{},
		Status:     request.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	created, err := t.store.CreateRequest(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	t.logger.InfoContext(ctx, "request created", "request_id", created.RequestID)
	return created, nil
}

// Get returns the request context.
func (t *Tracker) Get(ctx context.Context, requestID string) (*request.RequestContext, error) {
	return t.store.GetRequest(ctx, requestID)
}

// List returns all request contexts.
func (t *Tracker) List(ctx context.Context) ([]request.RequestContext, error) {
	return t.store.ListRequests(ctx)
}

// Advance records that an agent is starting work: the agent name is appended
// to the chain and the request is moved to in-progress if it was pending.
// Terminal requests cannot advance.
func (t *Tracker) Advance(ctx context.Context, requestID, agentName string) error {
	rc, err := t.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if rc.Status.IsTerminal() {
		return fmt.Errorf("request %s is %s: %w", requestID, rc.Status, domain.ErrValidation)
	}

	if err := t.store.AppendAgent(ctx, requestID, agentName); err != nil {
		return fmt.Errorf("append agent %s: %w", agentName, err)
	}
	if rc.Status == request.StatusPending {
		if err := t.store.UpdateRequestStatus(ctx, requestID, request.StatusInProgress, ""); err != nil {
			return fmt.Errorf("mark in-progress: %w", err)
		}
	}
	return nil
}

// Complete moves the request to its terminal completed status.
func (t *Tracker) Complete(ctx context.Context, requestID string) error {
	if err := t.store.UpdateRequestStatus(ctx, requestID, request.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	t.logger.InfoContext(ctx, "request completed", "request_id", requestID)
	return nil
}

// Fail moves the request to its terminal failed status with a reason.
func (t *Tracker) Fail(ctx context.Context, requestID, reason string) error {
	if err := t.store.UpdateRequestStatus(ctx, requestID, request.StatusFailed, reason); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	t.logger.WarnContext(ctx, "request failed", "request_id", requestID, "reason", reason)
	return nil
}
