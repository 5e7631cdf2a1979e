// Package confidence defines agent score aggregation types and the ordered
// threshold table that routes a request's next action.
package confidence

import (
	"errors"
	"fmt"
	"time"
)

// Decision is the router's categorical output.
type Decision string

const (
	DecisionExecute  Decision = "execute"
	DecisionReview   Decision = "review"
	DecisionRethink  Decision = "rethink"
	DecisionEscalate Decision = "escalate"
)

// ValidDecision reports whether d is a known decision.
func ValidDecision(d Decision) bool {
	switch d {
	case DecisionExecute, DecisionReview, DecisionRethink, DecisionEscalate:
		return true
	}
	return false
}

// AgentScore is one agent's self-reported confidence in its output.
type AgentScore struct {
	AgentName string    `json:"agent_name"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Threshold maps an inclusive lower confidence bound to a decision.
type Threshold struct {
	Min      float64  `yaml:"min" json:"min"`
	Decision Decision `yaml:"decision" json:"decision"`
}

// Table is an ordered threshold table evaluated high-to-low. The first entry
// whose bound the confidence meets wins; bounds are inclusive on the lower
// side, so a tie at a boundary routes to the higher-confidence bucket.
// Confidence below every bound escalates.
type Table []Threshold

// DefaultTable routes >=0.85 to execute, >=0.65 to review and >=0.4 to
// rethink.
func DefaultTable() Table {
	return Table{
		{Min: 0.85, Decision: DecisionExecute},
		{Min: 0.65, Decision: DecisionReview},
		{Min: 0.4, Decision: DecisionRethink},
	}
}

var (
	ErrEmptyTable     = errors.New("threshold table is empty")
	ErrTableOrder     = errors.New("threshold bounds must strictly decrease")
	ErrThresholdRange = errors.New("threshold bounds must be within [0,1]")
	ErrBadDecision    = errors.New("unknown decision")
)

// Validate checks that the table is non-empty, strictly decreasing and in
// range.
func (t Table) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	prev := 1.1
	for i, th := range t {
		if th.Min < 0 || th.Min > 1 {
			return fmt.Errorf("entry %d bound %v: %w", i, th.Min, ErrThresholdRange)
		}
		if th.Min >= prev {
			return fmt.Errorf("entry %d bound %v: %w", i, th.Min, ErrTableOrder)
		}
		if !ValidDecision(th.Decision) {
			return fmt.Errorf("entry %d: %w", i, ErrBadDecision)
		}
		prev = th.Min
	}
	return nil
}

// Decide maps a confidence value to a decision, returning the threshold that
// matched. Confidence below every bound escalates with a zero bound.
func (t Table) Decide(confidence float64) (Decision, Threshold) {
	for _, th := range t {
		if confidence >= th.Min {
			return th.Decision, th
		}
	}
	return DecisionEscalate, Threshold{Min: 0, Decision: DecisionEscalate}
}

// ConfidenceScore is the router's output: the aggregate confidence, the
// decision it mapped to, and the threshold boundary applied.
type ConfidenceScore struct {
	OverallConfidence float64      `json:"overall_confidence"`
	Decision          Decision     `json:"decision"`
	ThresholdUsed     Threshold    `json:"threshold_used"`
	Reasoning         string       `json:"reasoning"`
	Inputs            []AgentScore `json:"inputs,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}
