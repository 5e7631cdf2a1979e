package plan_test

import (
	"testing"

	"github.com/chainwright/chainwright/internal/domain/plan"
)

func TestDiff_NoChanges(t *testing.T) {
	base := validPlan()
	next := base.Clone()
	next.PlanID = "p-2"
	next.PlanVersion = 2

	if changes := plan.Diff(base, next); len(changes) != 0 {
		t.Fatalf("changes = %v, want none (identity fields are not content)", changes)
	}
}

func TestDiff_ParameterChanged(t *testing.T) {
	base := validPlan()
	next := base.Clone()
	next.Steps[1].Parameters["material"] = plan.Literal("plastic")

	changes := plan.Diff(base, next)
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want exactly one", changes)
	}
	if changes[0].Type != plan.ChangeStepModified || changes[0].StepOrder != 2 {
		t.Errorf("change = %+v, want step-modified for step 2", changes[0])
	}
}

func TestDiff_GoalAndStepAdded(t *testing.T) {
	base := validPlan()
	next := base.Clone()
	next.Goal = "ship the order by sea"
	next.Steps = append(next.Steps, plan.Step{
		Order:  3,
		Action: "notify_customer",
		Status: plan.StepStatusPending,
	})

	changes := plan.Diff(base, next)
	if len(changes) != 2 {
		t.Fatalf("changes = %v, want goal change + step added", changes)
	}
	if changes[0].Type != plan.ChangeGoal {
		t.Errorf("first change = %+v, want goal-changed", changes[0])
	}
	if changes[1].Type != plan.ChangeStepAdded || changes[1].StepOrder != 3 {
		t.Errorf("second change = %+v, want step-added for step 3", changes[1])
	}
}

func TestDiff_StepRemoved(t *testing.T) {
	base := validPlan()
	next := base.Clone()
	next.Steps = next.Steps[:1]

	changes := plan.Diff(base, next)
	if len(changes) != 1 || changes[0].Type != plan.ChangeStepRemoved {
		t.Fatalf("changes = %v, want one step-removed", changes)
	}
}

func TestDiff_IgnoresExecutionStatus(t *testing.T) {
	base := validPlan()
	next := base.Clone()
	next.Steps[0].Status = plan.StepStatusCompleted

	if changes := plan.Diff(base, next); len(changes) != 0 {
		t.Fatalf("changes = %v, execution status is not plan content", changes)
	}
}

func TestChangedSteps(t *testing.T) {
	base := validPlan()
	next := base.Clone()
	next.Steps[1].Parameters["material"] = plan.Literal("plastic")

	changed := plan.ChangedSteps(base, next)
	if !changed[2] || changed[1] {
		t.Fatalf("changed = %v, want only step 2", changed)
	}
}
