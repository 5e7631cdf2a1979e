package messagequeue_test

import (
	"testing"

	"github.com/chainwright/chainwright/internal/port/messagequeue"
)

func TestValidate_IntakeSubmit(t *testing.T) {
	data := []byte(`{"request_id":"req-1","user_query":"plan a shipment"}`)
	if err := messagequeue.Validate(messagequeue.SubjectIntakeSubmit, data); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_RejectsMalformedJSON(t *testing.T) {
	if err := messagequeue.Validate(messagequeue.SubjectIntakeSubmit, []byte(`{"user_query":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestValidate_RejectsSchemaMismatch(t *testing.T) {
	// user_query must be a string.
	data := []byte(`{"user_query":42}`)
	if err := messagequeue.Validate(messagequeue.SubjectIntakeSubmit, data); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestValidate_PipelineEventSubject(t *testing.T) {
	data := []byte(`{"id":"e1","request_id":"req-1","type":"stage.completed","seq":4}`)
	if err := messagequeue.Validate("pipeline.stage.completed", data); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_UnknownSubjectPasses(t *testing.T) {
	if err := messagequeue.Validate("other.subject", []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("unknown subject should pass, got %v", err)
	}
}

func TestSubjectFor(t *testing.T) {
	got := messagequeue.SubjectFor("decision.made")
	if got != "pipeline.decision.made" {
		t.Fatalf("SubjectFor = %s", got)
	}
}
