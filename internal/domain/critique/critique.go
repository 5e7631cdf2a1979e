// Package critique defines the Critique entity produced by the critic agent
// and the deterministic scoring rules behind it.
package critique

import (
	"errors"
	"fmt"
	"time"
)

// Severity grades an issue found in a plan.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Recommendation is the critic's verdict on a plan version.
type Recommendation string

const (
	RecommendApprove        Recommendation = "approve"
	RecommendApproveDynamic Recommendation = "approve-with-dynamic-fix"
	RecommendRevise         Recommendation = "revise"
	RecommendReject         Recommendation = "reject"
)

// ValidRecommendation reports whether r is a known recommendation.
func ValidRecommendation(r Recommendation) bool {
	switch r {
	case RecommendApprove, RecommendApproveDynamic, RecommendRevise, RecommendReject:
		return true
	}
	return false
}

// Category classifies a follow-up question.
type Category string

const (
	CategoryMissingInfo Category = "missing-info"
	CategoryAmbiguity   Category = "ambiguity"
	CategoryRisk        Category = "risk"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryMissingInfo, CategoryAmbiguity, CategoryRisk:
		return true
	}
	return false
}

// Priority orders follow-up questions for the caller.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Dimension names the sub-score an issue weighs against.
type Dimension string

const (
	DimFeasibility Dimension = "feasibility"
	DimCorrectness Dimension = "correctness"
	DimEfficiency  Dimension = "efficiency"
	DimSafety      Dimension = "safety"
)

// Issue is one problem the critic found in a plan.
type Issue struct {
	Severity    Severity  `json:"severity"`
	Dimension   Dimension `json:"dimension,omitempty"`
	Description string    `json:"description"`
	StepOrder   int       `json:"step_order,omitempty"` // 0 means plan-wide
}

// FollowUpQuestion asks the user for input the plan cannot proceed without.
// StepOrder and Parameter bind missing-info questions to the plan parameter
// an answer will fill.
type FollowUpQuestion struct {
	ID        string   `json:"id"` // unique within the critique
	Category  Category `json:"category"`
	Priority  Priority `json:"priority"`
	Question  string   `json:"question"`
	StepOrder int      `json:"step_order,omitempty"`
	Parameter string   `json:"parameter,omitempty"`
}

// SubScores are the four scored dimensions of a plan.
type SubScores struct {
	Feasibility float64 `json:"feasibility"`
	Correctness float64 `json:"correctness"`
	Efficiency  float64 `json:"efficiency"`
	Safety      float64 `json:"safety"`
}

// Critique is one immutable scoring pass over a specific plan version.
// CritiqueVersion counts per request, independently of plan versions.
type Critique struct {
	CritiqueID        string             `json:"critique_id"`
	RequestID         string             `json:"request_id"`
	CritiqueVersion   int                `json:"critique_version"`
	PlanID            string             `json:"plan_id"`
	PlanVersion       int                `json:"plan_version"`
	OverallScore      float64            `json:"overall_score"`
	SubScores         SubScores          `json:"sub_scores"`
	Recommendation    Recommendation     `json:"recommendation"`
	Rationale         string             `json:"rationale,omitempty"`
	Strengths         []string           `json:"strengths,omitempty"`
	Issues            []Issue            `json:"issues,omitempty"`
	FollowUpQuestions []FollowUpQuestion `json:"follow_up_questions,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// FeedbackAnswer pairs a follow-up question with the user's answer.
type FeedbackAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// QuestionByID returns the follow-up question with the given id, or nil.
func (c *Critique) QuestionByID(id string) *FollowUpQuestion {
	for i := range c.FollowUpQuestions {
		if c.FollowUpQuestions[i].ID == id {
			return &c.FollowUpQuestions[i]
		}
	}
	return nil
}

var (
	ErrMissingRequestID   = errors.New("request_id is required")
	ErrMissingPlanID      = errors.New("plan_id is required")
	ErrBadVersion         = errors.New("critique_version must be >= 1")
	ErrScoreRange         = errors.New("scores must be within [0,1]")
	ErrBadRecommendation  = errors.New("unknown recommendation")
	ErrApproveWithOpenQs  = errors.New("approve requires zero follow-up questions")
	ErrDuplicateQuestion  = errors.New("duplicate follow-up question id")
	ErrBadIssueSeverity   = errors.New("unknown issue severity")
	ErrBadQuestionSpec    = errors.New("unknown question category")
)

// Validate checks the critique invariants, including that an approve verdict
// never carries open questions.
func (c *Critique) Validate() error {
	if c.RequestID == "" {
		return ErrMissingRequestID
	}
	if c.CritiqueVersion < 1 {
		return ErrBadVersion
	}
	if c.PlanID == "" {
		return ErrMissingPlanID
	}
	for _, s := range []float64{
		c.OverallScore, c.SubScores.Feasibility, c.SubScores.Correctness,
		c.SubScores.Efficiency, c.SubScores.Safety,
	} {
		if s < 0 || s > 1 {
			return ErrScoreRange
		}
	}
	if !ValidRecommendation(c.Recommendation) {
		return ErrBadRecommendation
	}
	if c.Recommendation == RecommendApprove && len(c.FollowUpQuestions) > 0 {
		return ErrApproveWithOpenQs
	}
	for _, is := range c.Issues {
		if !ValidSeverity(is.Severity) {
			return fmt.Errorf("issue %q: %w", is.Description, ErrBadIssueSeverity)
		}
	}
	seen := make(map[string]bool, len(c.FollowUpQuestions))
	for _, q := range c.FollowUpQuestions {
		if q.ID == "" || seen[q.ID] {
			return fmt.Errorf("question %q: %w", q.ID, ErrDuplicateQuestion)
		}
		seen[q.ID] = true
		if !ValidCategory(q.Category) {
			return fmt.Errorf("question %s: %w", q.ID, ErrBadQuestionSpec)
		}
	}
	return nil
}

// HasCriticalIssue reports whether any issue is critical.
func (c *Critique) HasCriticalIssue() bool {
	for _, is := range c.Issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
