package plan

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRequestID    = errors.New("request_id is required")
	ErrMissingGoal         = errors.New("goal is required")
	ErrBadVersion          = errors.New("plan_version must be >= 1")
	ErrNoSteps             = errors.New("at least one step is required")
	ErrStepOrder           = errors.New("step orders must be exactly 1..N")
	ErrStepMissingAction   = errors.New("step action is required")
	ErrDependencyNotPrior  = errors.New("step dependency must reference a prior step order")
	ErrBadStepReference    = errors.New("step_ref must reference a prior step order")
	ErrUnknownParamKind    = errors.New("unknown parameter kind")
	ErrConfidenceRange     = errors.New("confidence must be within [0,1]")
	ErrComplexityRange     = errors.New("estimated_complexity must be within [0,1]")
)

// Validate checks the structural invariants of a plan: contiguous 1..N step
// orders, strictly prior dependencies and step references, and score ranges.
// Prior-only dependencies make cycles impossible by construction.
func (p *Plan) Validate() error {
	if p.RequestID == "" {
		return ErrMissingRequestID
	}
	if p.PlanVersion < 1 {
		return ErrBadVersion
	}
	if p.Goal == "" {
		return ErrMissingGoal
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return ErrConfidenceRange
	}
	if p.EstimatedComplexity < 0 || p.EstimatedComplexity > 1 {
		return ErrComplexityRange
	}
	return validateSteps(p.Steps)
}

// Validate checks a draft before identity assignment, with the same step
// rules as a full plan.
func (d *Draft) Validate() error {
	if d.Goal == "" {
		return ErrMissingGoal
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return ErrConfidenceRange
	}
	if d.EstimatedComplexity < 0 || d.EstimatedComplexity > 1 {
		return ErrComplexityRange
	}
	return validateSteps(d.Steps)
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return ErrNoSteps
	}

	seen := make(map[int]bool, len(steps))
	for i, s := range steps {
		if s.Order < 1 || s.Order > len(steps) || seen[s.Order] {
			return fmt.Errorf("step %d has order %d: %w", i, s.Order, ErrStepOrder)
		}
		seen[s.Order] = true

		if s.Action == "" {
			return fmt.Errorf("step %d: %w", s.Order, ErrStepMissingAction)
		}
		for _, dep := range s.Dependencies {
			if dep < 1 || dep >= s.Order {
				return fmt.Errorf("step %d depends on %d: %w", s.Order, dep, ErrDependencyNotPrior)
			}
		}
		for name, pv := range s.Parameters {
			if err := pv.Validate(); err != nil {
				return fmt.Errorf("step %d parameter %q: %w", s.Order, name, err)
			}
			if pv.Kind == ParamStepReference && pv.StepOrder >= s.Order {
				return fmt.Errorf("step %d parameter %q references step %d: %w",
					s.Order, name, pv.StepOrder, ErrBadStepReference)
			}
		}
	}
	return nil
}
