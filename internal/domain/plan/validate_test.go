package plan_test

import (
	"errors"
	"testing"

	"github.com/chainwright/chainwright/internal/domain/plan"
)

func validPlan() *plan.Plan {
	return &plan.Plan{
		PlanID:              "p-1",
		RequestID:           "req-1",
		PlanVersion:         1,
		Goal:                "ship the order",
		Confidence:          0.8,
		EstimatedComplexity: 0.4,
		Steps: []plan.Step{
			{
				Order:  1,
				Action: "lookup_facility",
				Parameters: map[string]plan.ParamValue{
					"facility_id": plan.Literal("HAN"),
				},
				ExpectedOutcome: "facility record",
				Status:          plan.StepStatusPending,
			},
			{
				Order:        2,
				Action:       "schedule_shipment",
				Dependencies: []int{1},
				Parameters: map[string]plan.ParamValue{
					"facility": plan.StepReference(1, "facility_id"),
					"material": plan.Placeholder("material not specified in query"),
				},
				Status: plan.StepStatusPending,
			},
		},
	}
}

func TestValidate_ValidPlan(t *testing.T) {
	p := validPlan()
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_MissingRequestID(t *testing.T) {
	p := validPlan()
	p.RequestID = ""
	if err := p.Validate(); !errors.Is(err, plan.ErrMissingRequestID) {
		t.Fatalf("expected ErrMissingRequestID, got %v", err)
	}
}

func TestValidate_MissingGoal(t *testing.T) {
	p := validPlan()
	p.Goal = ""
	if err := p.Validate(); !errors.Is(err, plan.ErrMissingGoal) {
		t.Fatalf("expected ErrMissingGoal, got %v", err)
	}
}

func TestValidate_BadVersion(t *testing.T) {
	p := validPlan()
	p.PlanVersion = 0
	if err := p.Validate(); !errors.Is(err, plan.ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestValidate_NoSteps(t *testing.T) {
	p := validPlan()
	p.Steps = nil
	if err := p.Validate(); !errors.Is(err, plan.ErrNoSteps) {
		t.Fatalf("expected ErrNoSteps, got %v", err)
	}
}

func TestValidate_DuplicateOrder(t *testing.T) {
	p := validPlan()
	p.Steps[1].Order = 1
	if err := p.Validate(); !errors.Is(err, plan.ErrStepOrder) {
		t.Fatalf("expected ErrStepOrder, got %v", err)
	}
}

func TestValidate_OrderOutOfRange(t *testing.T) {
	p := validPlan()
	p.Steps[1].Order = 5
	if err := p.Validate(); !errors.Is(err, plan.ErrStepOrder) {
		t.Fatalf("expected ErrStepOrder, got %v", err)
	}
}

func TestValidate_StepMissingAction(t *testing.T) {
	p := validPlan()
	p.Steps[0].Action = ""
	if err := p.Validate(); !errors.Is(err, plan.ErrStepMissingAction) {
		t.Fatalf("expected ErrStepMissingAction, got %v", err)
	}
}

func TestValidate_ForwardDependency(t *testing.T) {
	p := validPlan()
	p.Steps[0].Dependencies = []int{2}
	if err := p.Validate(); !errors.Is(err, plan.ErrDependencyNotPrior) {
		t.Fatalf("expected ErrDependencyNotPrior, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	p := validPlan()
	p.Steps[1].Dependencies = []int{2}
	if err := p.Validate(); !errors.Is(err, plan.ErrDependencyNotPrior) {
		t.Fatalf("expected ErrDependencyNotPrior, got %v", err)
	}
}

func TestValidate_ForwardStepReference(t *testing.T) {
	p := validPlan()
	p.Steps[0].Parameters["shipment"] = plan.StepReference(2, "shipment_id")
	if err := p.Validate(); !errors.Is(err, plan.ErrBadStepReference) {
		t.Fatalf("expected ErrBadStepReference, got %v", err)
	}
}

func TestValidate_UnknownParamKind(t *testing.T) {
	p := validPlan()
	p.Steps[0].Parameters["odd"] = plan.ParamValue{Kind: "vector"}
	if err := p.Validate(); !errors.Is(err, plan.ErrUnknownParamKind) {
		t.Fatalf("expected ErrUnknownParamKind, got %v", err)
	}
}

func TestValidate_ConfidenceRange(t *testing.T) {
	p := validPlan()
	p.Confidence = 1.2
	if err := p.Validate(); !errors.Is(err, plan.ErrConfidenceRange) {
		t.Fatalf("expected ErrConfidenceRange, got %v", err)
	}
}

func TestDraftNormalize_RenumbersAndClamps(t *testing.T) {
	d := plan.Draft{
		Goal:                "g",
		Confidence:          1.7,
		EstimatedComplexity: -0.2,
		Steps: []plan.Step{
			{Action: "a"},
			{Action: "b", Order: 1},
		},
	}
	d.Normalize()

	if d.Steps[0].Order != 1 || d.Steps[1].Order != 2 {
		t.Errorf("orders = %d,%d, want 1,2", d.Steps[0].Order, d.Steps[1].Order)
	}
	if d.Steps[0].Status != plan.StepStatusPending {
		t.Errorf("status = %q, want pending", d.Steps[0].Status)
	}
	if d.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", d.Confidence)
	}
	if d.EstimatedComplexity != 0 {
		t.Errorf("estimated_complexity = %v, want 0", d.EstimatedComplexity)
	}
}

func TestDraftNormalize_KeepsValidOrders(t *testing.T) {
	d := plan.Draft{
		Goal: "g",
		Steps: []plan.Step{
			{Action: "a", Order: 1, Status: plan.StepStatusPending},
			{Action: "b", Order: 2, Status: plan.StepStatusPending},
		},
	}
	d.Normalize()
	if d.Steps[0].Order != 1 || d.Steps[1].Order != 2 {
		t.Errorf("orders = %d,%d, want unchanged 1,2", d.Steps[0].Order, d.Steps[1].Order)
	}
}

func TestPlanClone_Isolated(t *testing.T) {
	p := validPlan()
	cp := p.Clone()

	cp.Steps[1].Parameters["material"] = plan.Literal("plastic")
	cp.Steps[0].Dependencies = append(cp.Steps[0].Dependencies, 1)

	if got := p.Steps[1].Parameters["material"]; got.Kind != plan.ParamPlaceholder {
		t.Errorf("original mutated: material = %+v", got)
	}
	if len(p.Steps[0].Dependencies) != 0 {
		t.Errorf("original dependencies mutated: %v", p.Steps[0].Dependencies)
	}
}
