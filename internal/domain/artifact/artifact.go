// Package artifact defines the versioned artifact trail written by pipeline
// agents, keyed by (request, kind, version).
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Kind identifies which agent output an artifact holds.
type Kind string

const (
	KindComplexity Kind = "complexity"
	KindThought    Kind = "thought"
	KindPlan       Kind = "plan"
	KindCritique   Kind = "critique"
	KindConfidence Kind = "confidence"
	KindExecution  Kind = "execution"
	KindReplan     Kind = "replan"
	KindSummary    Kind = "summary"
)

// ValidKind reports whether k is a known artifact kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindComplexity, KindThought, KindPlan, KindCritique,
		KindConfidence, KindExecution, KindReplan, KindSummary:
		return true
	}
	return false
}

// Kinds returns every artifact kind in pipeline order.
func Kinds() []Kind {
	return []Kind{
		KindComplexity, KindThought, KindPlan, KindCritique,
		KindConfidence, KindExecution, KindReplan, KindSummary,
	}
}

// agentNames maps each kind to the chain identifier of the agent producing it.
var agentNames = map[Kind]string{
	KindComplexity: "complexity-detector",
	KindThought:    "thought-generator",
	KindPlan:       "planner",
	KindCritique:   "critic",
	KindConfidence: "confidence-router",
	KindExecution:  "executor",
	KindReplan:     "replanner",
	KindSummary:    "summarizer",
}

// AgentName returns the agent-chain identifier of the agent that produces k.
func (k Kind) AgentName() string {
	if name, ok := agentNames[k]; ok {
		return name
	}
	return string(k)
}

// Key addresses a single artifact in the trail.
type Key struct {
	RequestID string `json:"request_id"`
	Kind      Kind   `json:"kind"`
	Version   int    `json:"version"`
}

// String renders the key in the form used for cache keys and logs.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/v%d", k.RequestID, k.Kind, k.Version)
}

// Record is the stored envelope for one agent output. Records are immutable
// once written; a changed output is a new version, never an update in place.
type Record struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	Kind      Kind            `json:"kind"`
	Version   int             `json:"version"`
	Digest    string          `json:"digest"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key returns the trail address of the record.
func (r *Record) Key() Key {
	return Key{RequestID: r.RequestID, Kind: r.Kind, Version: r.Version}
}

var (
	ErrMissingRequestID = errors.New("request_id is required")
	ErrUnknownKind      = errors.New("unknown artifact kind")
	ErrBadVersion       = errors.New("version must be >= 1")
	ErrEmptyPayload     = errors.New("payload is required")
)

// Validate checks that a Record is well-formed for storage.
func (r *Record) Validate() error {
	if r.RequestID == "" {
		return ErrMissingRequestID
	}
	if !ValidKind(r.Kind) {
		return ErrUnknownKind
	}
	if r.Version < 1 {
		return ErrBadVersion
	}
	if len(r.Payload) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// Digest returns the blake2b-256 hex digest of payload bytes. Stores compare
// digests to accept bit-identical resubmissions as no-ops.
func Digest(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return fmt.Sprintf("%x", sum)
}

// NewRecord marshals payload and wraps it in a Record for the given trail
// position. Map keys marshal in sorted order, so equal payloads always
// produce equal digests.
func NewRecord(requestID string, kind Kind, version int, payload any) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	rec := &Record{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Kind:      kind,
		Version:   version,
		Digest:    Digest(data),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s artifact %s: %w", r.Kind, r.ID, err)
	}
	return nil
}
