// Package plan defines the versioned Plan entity produced by the planner and
// replanner agents.
package plan

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus represents the execution-time state of an individual step.
// It is owned by the executor; planning always emits pending steps.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Plan is one immutable snapshot of a step sequence for a request. A new
// version is minted whenever the plan changes; versions for a request form a
// contiguous run 1..N and every version keeps its own PlanID.
type Plan struct {
	PlanID              string    `json:"plan_id"`
	RequestID           string    `json:"request_id"`
	PlanVersion         int       `json:"plan_version"`
	Goal                string    `json:"goal"`
	Steps               []Step    `json:"steps"`
	Confidence          float64   `json:"confidence"`
	EstimatedComplexity float64   `json:"estimated_complexity"`
	CreatedAt           time.Time `json:"created_at"`
}

// Step is one unit of work within a plan.
type Step struct {
	Order           int                   `json:"order"` // 1-based, unique within the plan
	Action          string                `json:"action"`
	Parameters      map[string]ParamValue `json:"parameters,omitempty"`
	Dependencies    []int                 `json:"dependencies,omitempty"` // prior step orders
	ExpectedOutcome string                `json:"expected_outcome,omitempty"`
	Status          StepStatus            `json:"status"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	cp := s
	if s.Parameters != nil {
		cp.Parameters = make(map[string]ParamValue, len(s.Parameters))
		for k, v := range s.Parameters {
			cp.Parameters[k] = v
		}
	}
	if s.Dependencies != nil {
		cp.Dependencies = append([]int(nil), s.Dependencies...)
	}
	return cp
}

// Clone returns a deep copy of the plan. Feedback merges always mutate a
// clone; stored versions are never edited in place.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	for i := range p.Steps {
		cp.Steps[i] = p.Steps[i].Clone()
	}
	return &cp
}

// StepByOrder returns the step with the given order, or nil.
func (p *Plan) StepByOrder(order int) *Step {
	for i := range p.Steps {
		if p.Steps[i].Order == order {
			return &p.Steps[i]
		}
	}
	return nil
}

// Draft is a planner agent's raw output before identity and version
// assignment: goal and steps plus the agent's own confidence and complexity
// estimates.
type Draft struct {
	Goal                string  `json:"goal"`
	Steps               []Step  `json:"steps"`
	Confidence          float64 `json:"confidence"`
	EstimatedComplexity float64 `json:"estimated_complexity"`
}

// Normalize repairs the structural fields a reasoning backend tends to get
// wrong: step orders are rewritten to 1..N in sequence order when missing or
// duplicated, statuses default to pending, and score fields are clamped to
// [0,1].
func (d *Draft) Normalize() {
	seen := make(map[int]bool, len(d.Steps))
	renumber := false
	for i := range d.Steps {
		o := d.Steps[i].Order
		if o < 1 || seen[o] {
			renumber = true
			break
		}
		seen[o] = true
	}
	for i := range d.Steps {
		if renumber {
			d.Steps[i].Order = i + 1
		}
		if d.Steps[i].Status == "" {
			d.Steps[i].Status = StepStatusPending
		}
	}
	d.Confidence = clamp01(d.Confidence)
	d.EstimatedComplexity = clamp01(d.EstimatedComplexity)
}

// NewPlan assigns identity and a version to a draft, producing the immutable
// Plan snapshot for storage.
func NewPlan(requestID string, version int, d Draft) *Plan {
	return &Plan{
		PlanID:              uuid.NewString(),
		RequestID:           requestID,
		PlanVersion:         version,
		Goal:                d.Goal,
		Steps:               d.Steps,
		Confidence:          d.Confidence,
		EstimatedComplexity: d.EstimatedComplexity,
		CreatedAt:           time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
