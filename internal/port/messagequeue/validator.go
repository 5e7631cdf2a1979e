package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainwright/chainwright/internal/domain/event"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	// DLQ subjects carry the original, possibly invalid payload.
	if strings.HasSuffix(subject, ".dlq") {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	// Map subject to payload struct for structural validation.
	var target any
	switch {
	case subject == SubjectIntakeSubmit:
		target = &IntakeSubmitPayload{}
	case strings.HasPrefix(subject, subjectPrefix):
		// Every other pipeline.* subject carries a trail event.
		target = &event.PipelineEvent{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
