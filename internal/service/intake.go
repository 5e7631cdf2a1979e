package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/port/messagequeue"
)

// Intake consumes query submissions from the message queue so other systems
// can open pipeline requests without the HTTP API. Submissions that can
// never succeed (malformed payloads, duplicates, validation failures) are
// dropped with a warning; transient failures propagate so the queue
// redelivers.
type Intake struct {
	queue       messagequeue.Queue
	coordinator *Coordinator
	logger      *slog.Logger
	cancel      func()
}

// NewIntake creates an Intake consumer bound to the coordinator.
func NewIntake(queue messagequeue.Queue, co *Coordinator, log *slog.Logger) *Intake {
	return &Intake{queue: queue, coordinator: co, logger: log}
}

// Start subscribes to the intake subject.
func (i *Intake) Start(ctx context.Context) error {
	cancel, err := i.queue.Subscribe(ctx, messagequeue.SubjectIntakeSubmit, i.handle)
	if err != nil {
		return fmt.Errorf("intake subscribe: %w", err)
	}
	i.cancel = cancel
	i.logger.Info("intake consumer started", "subject", messagequeue.SubjectIntakeSubmit)
	return nil
}

// Stop cancels the subscription. In-flight handlers finish on their own.
func (i *Intake) Stop() {
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
}

func (i *Intake) handle(ctx context.Context, subject string, data []byte) error {
	var p messagequeue.IntakeSubmitPayload
	if err := json.Unmarshal(data, &p); err != nil {
		i.logger.WarnContext(ctx, "intake payload malformed", "subject", subject, "error", err)
		return nil
	}

	rc, err := i.coordinator.Submit(ctx, request.CreateRequest{
		RequestID: p.RequestID,
		UserQuery: p.UserQuery,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) || errors.Is(err, domain.ErrValidation) {
			i.logger.WarnContext(ctx, "intake submission rejected",
				"request_id", p.RequestID, "error", err)
			return nil
		}
		return fmt.Errorf("intake submit: %w", err)
	}

	i.logger.InfoContext(ctx, "query accepted from queue", "request_id", rc.RequestID)
	return nil
}
