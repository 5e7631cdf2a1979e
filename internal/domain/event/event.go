// Package event defines the PipelineEvent domain entity for the request trail.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of pipeline event.
type Type string

const (
	TypeRequestCreated   Type = "request.created"
	TypeRequestCompleted Type = "request.completed"
	TypeRequestFailed    Type = "request.failed"
	TypeRequestPaused    Type = "request.paused"
	TypeRequestResumed   Type = "request.resumed"
	TypeFeedbackReceived Type = "request.feedback"

	TypeStageStarted   Type = "stage.started"
	TypeStageCompleted Type = "stage.completed"
	TypeStageFailed    Type = "stage.failed"
	TypeStorageWarning Type = "stage.storage_warning"

	TypeDecisionMade Type = "decision.made"
)

// ValidType reports whether t is a known event type.
func ValidType(t Type) bool {
	switch t {
	case TypeRequestCreated, TypeRequestCompleted, TypeRequestFailed,
		TypeRequestPaused, TypeRequestResumed, TypeFeedbackReceived,
		TypeStageStarted, TypeStageCompleted, TypeStageFailed,
		TypeStorageWarning, TypeDecisionMade:
		return true
	}
	return false
}

var (
	ErrMissingRequestID = errors.New("event: request id is required")
	ErrUnknownType      = errors.New("event: unknown event type")
	ErrBadSeq           = errors.New("event: seq must be >= 1")
)

// PipelineEvent is a single immutable entry in a request's lifecycle trail.
// Seq is assigned by the event log at append time and orders events within
// one request; it carries no meaning across requests.
type PipelineEvent struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	Type      Type            `json:"type"`
	Agent     string          `json:"agent,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Seq       int             `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an unsequenced event with the payload marshaled to JSON.
func New(requestID string, t Type, agent string, payload any) (*PipelineEvent, error) {
	if requestID == "" {
		return nil, ErrMissingRequestID
	}
	if !ValidType(t) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return &PipelineEvent{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Type:      t,
		Agent:     agent,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Validate checks a sequenced event before it is persisted.
func (e *PipelineEvent) Validate() error {
	if e.RequestID == "" {
		return ErrMissingRequestID
	}
	if !ValidType(e.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.Seq < 1 {
		return ErrBadSeq
	}
	return nil
}
