package messagequeue

// IntakeSubmitPayload is the schema for pipeline.intake.submit messages.
// RequestID is optional; the tracker assigns one when absent.
type IntakeSubmitPayload struct {
	RequestID string `json:"request_id,omitempty"`
	UserQuery string `json:"user_query"`
}
