package critique

import (
	"errors"
	"math"

	"github.com/chainwright/chainwright/internal/domain/plan"
)

// Weights are the fixed sub-score weights behind the overall score. They are
// configuration constants, never derived per call, so re-scoring the same
// inputs is idempotent.
type Weights struct {
	Feasibility float64 `yaml:"feasibility" json:"feasibility"`
	Correctness float64 `yaml:"correctness" json:"correctness"`
	Efficiency  float64 `yaml:"efficiency" json:"efficiency"`
	Safety      float64 `yaml:"safety" json:"safety"`
}

// DefaultWeights favor feasibility and correctness over efficiency.
func DefaultWeights() Weights {
	return Weights{Feasibility: 0.3, Correctness: 0.3, Efficiency: 0.15, Safety: 0.25}
}

var ErrBadWeights = errors.New("weights must be >= 0 and sum to > 0")

// Validate checks that the weights can form a weighted mean.
func (w Weights) Validate() error {
	if w.Feasibility < 0 || w.Correctness < 0 || w.Efficiency < 0 || w.Safety < 0 {
		return ErrBadWeights
	}
	if w.Feasibility+w.Correctness+w.Efficiency+w.Safety <= 0 {
		return ErrBadWeights
	}
	return nil
}

// Overall computes the weighted mean of the sub-scores, rounded to four
// decimal places.
func (w Weights) Overall(s SubScores) float64 {
	sum := w.Feasibility + w.Correctness + w.Efficiency + w.Safety
	v := (s.Feasibility*w.Feasibility +
		s.Correctness*w.Correctness +
		s.Efficiency*w.Efficiency +
		s.Safety*w.Safety) / sum
	return round4(v)
}

// Findings carry the reasoning-derived part of a critique: observations the
// plan's structure alone cannot reveal. They are computed once per plan
// version and replayed verbatim on idempotent re-scores.
type Findings struct {
	Strengths []string           `json:"strengths,omitempty"`
	Issues    []Issue            `json:"issues,omitempty"`
	Questions []FollowUpQuestion `json:"questions,omitempty"`
	Rationale string             `json:"rationale,omitempty"`
}

// Deduction constants for the structural pass. Every unbound input and every
// issue pulls the affected dimensions down from a perfect 1.0.
const (
	deductPlaceholderFeasibility = 0.10
	deductPlaceholderCorrectness = 0.15
	deductFillerCorrectness      = 0.12
	deductStepRefFeasibility     = 0.04
	deductMissingOutcome         = 0.04
	longPlanThreshold            = 8
	deductLongPlanPerStep        = 0.04
)

var severityDeduction = map[Severity]float64{
	SeverityLow:      0.05,
	SeverityMedium:   0.12,
	SeverityHigh:     0.25,
	SeverityCritical: 0.45,
}

// Score computes the deterministic sub-scores for one plan version: the
// structural deductions from the parameter scan and step shape, plus the
// per-severity deductions of every issue. Same plan and findings always
// produce the same scores.
func Score(p *plan.Plan, scan ParamScan, issues []Issue, w Weights) (SubScores, float64) {
	s := SubScores{Feasibility: 1, Correctness: 1, Efficiency: 1, Safety: 1}

	s.Feasibility -= float64(len(scan.Placeholders)) * deductPlaceholderFeasibility
	s.Correctness -= float64(len(scan.Placeholders)) * deductPlaceholderCorrectness
	s.Correctness -= float64(len(scan.Fillers)) * deductFillerCorrectness
	s.Feasibility -= float64(len(scan.StepRefs)) * deductStepRefFeasibility

	for i := range p.Steps {
		if p.Steps[i].ExpectedOutcome == "" {
			s.Correctness -= deductMissingOutcome
		}
	}
	if n := len(p.Steps); n > longPlanThreshold {
		s.Efficiency -= float64(n-longPlanThreshold) * deductLongPlanPerStep
	}

	for _, is := range issues {
		d := severityDeduction[is.Severity]
		switch is.Dimension {
		case DimCorrectness:
			s.Correctness -= d
		case DimEfficiency:
			s.Efficiency -= d
		case DimSafety:
			s.Safety -= d
		default:
			s.Feasibility -= d
		}
	}

	s.Feasibility = round4(clamp01(s.Feasibility))
	s.Correctness = round4(clamp01(s.Correctness))
	s.Efficiency = round4(clamp01(s.Efficiency))
	s.Safety = round4(clamp01(s.Safety))
	return s, w.Overall(s)
}

// DeriveRecommendation applies the fixed policy: reject on any critical
// issue; revise on any high issue or open questions; approve-with-dynamic-fix
// when the only unbound parameters are step references bindable at execution
// time; approve otherwise.
func DeriveRecommendation(issues []Issue, questions []FollowUpQuestion, scan ParamScan) Recommendation {
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			return RecommendReject
		}
	}
	for _, is := range issues {
		if is.Severity == SeverityHigh {
			return RecommendRevise
		}
	}
	if len(questions) > 0 {
		return RecommendRevise
	}
	if len(scan.StepRefs) > 0 && len(scan.Placeholders) == 0 && len(scan.Fillers) == 0 {
		return RecommendApproveDynamic
	}
	return RecommendApprove
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

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
