package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/plan"
	"github.com/chainwright/chainwright/internal/domain/request"
)

// FeedbackMode names the branch a feedback submission took through the
// critique state machine.
type FeedbackMode string

const (
	// FeedbackRescore recomputes the critique for the unchanged plan.
	FeedbackRescore FeedbackMode = "rescore"
	// FeedbackRebind substitutes answers into plan parameters and rescores.
	FeedbackRebind FeedbackMode = "rebind"
	// FeedbackRegenerate replans from a refined query and rescores.
	FeedbackRegenerate FeedbackMode = "regenerate"
)

// FeedbackRequest is a user's response to a critique with open questions.
type FeedbackRequest struct {
	Answers          []critique.FeedbackAnswer `json:"user_feedback,omitempty"`
	RefinedUserQuery string                    `json:"refined_user_query,omitempty"`
}

// FeedbackResult reports what a feedback submission produced: the new
// critique, the plan version it scored, and whether an answer-driven rebind
// failed to improve on the prior critique.
type FeedbackResult struct {
	Mode       FeedbackMode       `json:"mode"`
	Critique   *critique.Critique `json:"critique"`
	Plan       *plan.Plan         `json:"plan"`
	Regression bool               `json:"regression,omitempty"`
}

// Critic runs the critique engine: it scores plan versions, tracks follow-up
// questions, and turns user feedback into plan rebinds or full regenerations.
// Every call that produces a critique allocates exactly one new critique
// version; the critique's plan fields always name the plan version that was
// actually scored.
type Critic struct {
	versioner *Versioner
	invoker   *Invoker
	weights   critique.Weights
	logger    *slog.Logger
}

// NewCritic creates a Critic. Invalid weights fall back to the defaults.
func NewCritic(versioner *Versioner, invoker *Invoker, w critique.Weights, log *slog.Logger) *Critic {
	if err := w.Validate(); err != nil {
		w = critique.DefaultWeights()
	}
	return &Critic{versioner: versioner, invoker: invoker, weights: w, logger: log}
}

// Score critiques one plan version. The first score of a plan version asks
// the reasoning backend for findings; later scores of the same plan replay
// the stored findings verbatim, so re-scoring is idempotent apart from the
// freshly allocated critique version.
func (c *Critic) Score(ctx context.Context, p *plan.Plan) (*critique.Critique, error) {
	prior, err := latestCritiqueFor(ctx, c.versioner, p.RequestID, p.PlanID)
	if err != nil {
		return nil, err
	}

	var (
		subs      critique.SubScores
		overall   float64
		rec       critique.Recommendation
		findings  critique.Findings
		questions []critique.FollowUpQuestion
	)
	if prior != nil {
		subs = prior.SubScores
		overall = prior.OverallScore
		rec = prior.Recommendation
		findings = critique.Findings{
			Strengths: slices.Clone(prior.Strengths),
			Issues:    slices.Clone(prior.Issues),
			Rationale: prior.Rationale,
		}
		questions = slices.Clone(prior.FollowUpQuestions)
	} else {
		scan := critique.ScanPlan(p)
		got, err := c.invoker.CritiqueFindings(ctx, p, &scan)
		if err != nil {
			return nil, err
		}
		findings = *got
		questions = critique.BuildQuestions(scan, findings.Questions)
		subs, overall = critique.Score(p, scan, findings.Issues, c.weights)
		rec = critique.DeriveRecommendation(findings.Issues, questions, scan)
	}

	// An append failure after a valid critique was built is a storage
	// warning, not a pipeline failure; the in-memory critique carries on.
	var built *critique.Critique
	_, err = c.versioner.SaveWith(ctx, p.RequestID, artifact.KindCritique, func(version int) (any, error) {
		cr := &critique.Critique{
			CritiqueID:        uuid.NewString(),
			RequestID:         p.RequestID,
			CritiqueVersion:   version,
			PlanID:            p.PlanID,
			PlanVersion:       p.PlanVersion,
			OverallScore:      overall,
			SubScores:         subs,
			Recommendation:    rec,
			Rationale:         findings.Rationale,
			Strengths:         findings.Strengths,
			Issues:            findings.Issues,
			FollowUpQuestions: questions,
			CreatedAt:         time.Now().UTC(),
		}
		if err := cr.Validate(); err != nil {
			return nil, fmt.Errorf("assemble critique: %w", err)
		}
		built = cr
		return cr, nil
	})
	if err != nil {
		if built == nil {
			return nil, err
		}
		c.logger.WarnContext(ctx, "storage write warning",
			"request_id", p.RequestID, "kind", string(artifact.KindCritique), "error", err)
	}

	c.logger.InfoContext(ctx, "plan critiqued",
		"request_id", p.RequestID,
		"plan_version", p.PlanVersion,
		"critique_version", built.CritiqueVersion,
		"overall_score", built.OverallScore,
		"recommendation", string(built.Recommendation),
		"open_questions", len(built.FollowUpQuestions),
		"replayed", prior != nil)
	return built, nil
}

// ApplyFeedback advances the critique state machine for a request. A refined
// query triggers full regeneration (new thought, new plan with a new plan
// id); answers alone are substituted into the parameters their questions
// reference, producing a new plan version; neither triggers an idempotent
// re-score. All three paths end in Scoring and mint a new critique version.
func (c *Critic) ApplyFeedback(ctx context.Context, rc *request.RequestContext, req FeedbackRequest) (*FeedbackResult, error) {
	cur, err := c.versioner.CurrentPlan(ctx, rc.RequestID)
	if err != nil {
		return nil, fmt.Errorf("current plan for %s: %w", rc.RequestID, err)
	}

	switch {
	case req.RefinedUserQuery != "":
		return c.regenerate(ctx, rc, req.RefinedUserQuery)
	case len(req.Answers) > 0:
		return c.rebind(ctx, rc.RequestID, cur, req.Answers)
	default:
		cr, err := c.Score(ctx, cur)
		if err != nil {
			return nil, err
		}
		return &FeedbackResult{Mode: FeedbackRescore, Critique: cr, Plan: cur}, nil
	}
}

// regenerate starts a new reasoning cycle from the refined query: thought and
// plan are produced fresh, and the new plan carries a new plan id even when
// its content matches the old one.
func (c *Critic) regenerate(ctx context.Context, rc *request.RequestContext, refined string) (*FeedbackResult, error) {
	ca := c.currentComplexity(ctx, rc.RequestID)

	th, err := c.invoker.GenerateThought(ctx, rc.UserQuery, refined, ca)
	if err != nil {
		return nil, err
	}
	if _, err := c.versioner.Save(ctx, rc.RequestID, artifact.KindThought, th); err != nil {
		c.logger.WarnContext(ctx, "storage write warning",
			"request_id", rc.RequestID, "kind", string(artifact.KindThought), "error", err)
	}

	d, err := c.invoker.DraftPlan(ctx, refined, th, ca)
	if err != nil {
		return nil, err
	}

	var p *plan.Plan
	_, err = c.versioner.SaveWith(ctx, rc.RequestID, artifact.KindPlan, func(version int) (any, error) {
		np := plan.NewPlan(rc.RequestID, version, *d)
		if err := np.Validate(); err != nil {
			return nil, err
		}
		p = np
		return np, nil
	})
	if err != nil {
		if p == nil {
			return nil, fmt.Errorf("regenerated plan: %w", err)
		}
		c.logger.WarnContext(ctx, "storage write warning",
			"request_id", rc.RequestID, "kind", string(artifact.KindPlan), "error", err)
	}

	cr, err := c.Score(ctx, p)
	if err != nil {
		return nil, err
	}
	return &FeedbackResult{Mode: FeedbackRegenerate, Critique: cr, Plan: p}, nil
}

// rebind substitutes feedback answers into the parameters their questions
// reference and scores the resulting plan as a new version. The new critique
// must beat the prior one on score or shed questions; failing both is
// reported as a regression, not an error.
func (c *Critic) rebind(ctx context.Context, requestID string, cur *plan.Plan, answers []critique.FeedbackAnswer) (*FeedbackResult, error) {
	prior, err := latestCritiqueFor(ctx, c.versioner, requestID, cur.PlanID)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, fmt.Errorf("no critique awaiting feedback for plan %s: %w", cur.PlanID, domain.ErrValidation)
	}

	next := cur.Clone()
	for _, ans := range answers {
		q := prior.QuestionByID(ans.QuestionID)
		if q == nil {
			return nil, fmt.Errorf("unknown question id %q: %w", ans.QuestionID, domain.ErrValidation)
		}
		// Questions not tied to a parameter (clarifications, confirmations)
		// are answered without touching the plan.
		if q.Parameter == "" || q.StepOrder == 0 {
			continue
		}
		step := next.StepByOrder(q.StepOrder)
		if step == nil {
			return nil, fmt.Errorf("question %s references missing step %d: %w", q.ID, q.StepOrder, domain.ErrValidation)
		}
		if step.Parameters == nil {
			step.Parameters = make(map[string]plan.ParamValue, 1)
		}
		step.Parameters[q.Parameter] = plan.Literal(ans.Answer)
	}

	d := plan.Draft{
		Goal:                next.Goal,
		Steps:               next.Steps,
		Confidence:          next.Confidence,
		EstimatedComplexity: next.EstimatedComplexity,
	}
	var p *plan.Plan
	_, err = c.versioner.SaveWith(ctx, requestID, artifact.KindPlan, func(version int) (any, error) {
		np := plan.NewPlan(requestID, version, d)
		if err := np.Validate(); err != nil {
			return nil, err
		}
		p = np
		return np, nil
	})
	if err != nil {
		if p == nil {
			return nil, fmt.Errorf("rebound plan: %w", err)
		}
		c.logger.WarnContext(ctx, "storage write warning",
			"request_id", requestID, "kind", string(artifact.KindPlan), "error", err)
	}

	cr, err := c.Score(ctx, p)
	if err != nil {
		return nil, err
	}

	regression := cr.OverallScore <= prior.OverallScore &&
		len(cr.FollowUpQuestions) >= len(prior.FollowUpQuestions)
	if regression {
		c.logger.WarnContext(ctx, "feedback regression",
			"request_id", requestID,
			"plan_version", p.PlanVersion,
			"score_before", prior.OverallScore,
			"score_after", cr.OverallScore,
			"questions_before", len(prior.FollowUpQuestions),
			"questions_after", len(cr.FollowUpQuestions))
	}
	return &FeedbackResult{Mode: FeedbackRebind, Critique: cr, Plan: p, Regression: regression}, nil
}

// latestCritiqueFor returns the newest critique that scored the given plan
// id, or nil when the plan was never critiqued.
func latestCritiqueFor(ctx context.Context, v *Versioner, requestID, planID string) (*critique.Critique, error) {
	all, err := v.ListCritiques(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].PlanID == planID {
			return &all[i], nil
		}
	}
	return nil, nil
}

// currentComplexity returns the stored complexity assessment, or nil when the
// trail has none.
func (c *Critic) currentComplexity(ctx context.Context, requestID string) *artifact.ComplexityAssessment {
	rec, err := c.versioner.Current(ctx, requestID, artifact.KindComplexity)
	if err != nil {
		return nil
	}
	var ca artifact.ComplexityAssessment
	if err := rec.Decode(&ca); err != nil {
		return nil
	}
	return &ca
}
