// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"

	"github.com/chainwright/chainwright/internal/domain/event"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the NATS subjects used by Chainwright.
const (
	// SubjectIntakeSubmit carries queries submitted through the queue
	// instead of the HTTP API.
	SubjectIntakeSubmit = "pipeline.intake.submit"

	// SubjectWildcard covers every pipeline subject; the stream binds to it.
	SubjectWildcard = "pipeline.>"

	subjectPrefix = "pipeline."
)

// SubjectFor maps a trail event type to its publication subject, e.g.
// event.TypeStageCompleted -> "pipeline.stage.completed".
func SubjectFor(t event.Type) string {
	return subjectPrefix + string(t)
}
