// Package request defines the RequestContext record that tracks a user query
// through the reasoning pipeline.
package request

import (
	"errors"
	"slices"
	"time"
)

// Status represents the lifecycle state of a pipeline request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RequestContext tracks one user query through the agent chain.
// AgentChain is append-only and may contain duplicates: an agent re-invoked
// after replanning appears once per invocation. UserQuery is immutable once
// set; a refined query starts a new reasoning cycle but never overwrites it.
type RequestContext struct {
	RequestID  string    `json:"request_id"`
	UserQuery  string    `json:"user_query,omitempty"`
	AgentChain []string  `json:"agent_chain"`
	Status     Status    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var (
	ErrMissingRequestID = errors.New("request_id is required")
	ErrInvalidStatus    = errors.New("invalid status")
)

// Validate checks that a RequestContext is well-formed.
func (rc *RequestContext) Validate() error {
	if rc.RequestID == "" {
		return ErrMissingRequestID
	}
	if !ValidStatus(rc.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// Clone returns a deep copy. The tracker hands copies to callers so the
// stored record is mutated only through tracker operations.
func (rc *RequestContext) Clone() *RequestContext {
	if rc == nil {
		return nil
	}
	cp := *rc
	cp.AgentChain = slices.Clone(rc.AgentChain)
	return &cp
}

// CreateRequest holds the fields needed to open a new request context.
type CreateRequest struct {
	RequestID string `json:"request_id,omitempty"`
	UserQuery string `json:"user_query"`
}
