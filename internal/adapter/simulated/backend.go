// Package simulated implements the reasoning backend port with deterministic
// canned reasoning, so the full pipeline runs end-to-end without a live
// model. Prompts embed their context as a fenced JSON block; the backend
// parses it back and derives structured output from it.
package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/plan"
	"github.com/chainwright/chainwright/internal/port/reasoning"
)

const backendName = "simulated"

// Backend produces deterministic structured output per agent kind. The same
// prompt always yields the same completion.
type Backend struct{}

// New creates a simulated backend.
func New() *Backend { return &Backend{} }

func init() {
	reasoning.Register(backendName, func(_ map[string]string) (reasoning.Backend, error) {
		return New(), nil
	})
}

// Name returns "simulated".
func (b *Backend) Name() string { return backendName }

// promptContext mirrors the context document the prompt builders embed.
type promptContext struct {
	UserQuery    string                         `json:"user_query,omitempty"`
	RefinedQuery string                         `json:"refined_query,omitempty"`
	Complexity   *artifact.ComplexityAssessment `json:"complexity,omitempty"`
	Thought      *artifact.Thought              `json:"thought,omitempty"`
	Plan         *plan.Plan                     `json:"plan,omitempty"`
	PreviousPlan *plan.Plan                     `json:"previous_plan,omitempty"`
	Critique     *critique.Critique             `json:"critique,omitempty"`
	Unbound      *critique.ParamScan            `json:"unbound,omitempty"`
	Execution    *artifact.ExecutionResult      `json:"execution,omitempty"`
	MetaGuidance string                         `json:"meta_guidance,omitempty"`
}

// Complete dispatches on the agent name and returns canned structured JSON.
func (b *Backend) Complete(_ context.Context, req reasoning.Request) (*reasoning.Response, error) {
	var pc promptContext
	if raw := extractJSON(req.User); raw != "" {
		// Context parse failures fall through to zero-value context; each
		// agent handles missing fields below.
		_ = json.Unmarshal([]byte(raw), &pc)
	}

	var out any
	switch req.Agent {
	case "complexity-detector":
		out = b.assessComplexity(pc)
	case "thought-generator":
		out = b.generateThought(pc)
	case "planner":
		out = b.draftPlan(pc)
	case "critic":
		out = b.reviewPlan(pc)
	case "executor":
		out = b.executePlan(pc)
	case "replanner":
		out = b.redraftPlan(pc)
	case "summarizer":
		out = b.summarize(pc)
	default:
		return nil, fmt.Errorf("simulated: unknown agent %q", req.Agent)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("simulated: marshal %s output: %w", req.Agent, err)
	}
	return &reasoning.Response{
		Content:   string(data),
		Model:     backendName,
		TokensIn:  len(req.User) / 4,
		TokensOut: len(data) / 4,
	}, nil
}

// assessComplexity scores by query length: longer queries read as harder.
func (b *Backend) assessComplexity(pc promptContext) artifact.ComplexityAssessment {
	words := len(strings.Fields(pc.UserQuery))
	score := 0.2 + 0.05*float64(min(words, 14))
	return artifact.ComplexityAssessment{
		Score:     score,
		Band:      artifact.BandFor(score),
		Reasoning: fmt.Sprintf("simulated length heuristic over %d words", words),
	}
}

func (b *Backend) generateThought(pc promptContext) artifact.Thought {
	th := artifact.Thought{
		Approach:   "Decompose the query into ordered steps and carry results forward between them.",
		Confidence: 0.82,
	}
	if pc.Complexity != nil {
		th.KeyFindings = append(th.KeyFindings,
			fmt.Sprintf("query assessed as %s complexity", pc.Complexity.Band))
	}
	if pc.RefinedQuery != "" {
		th.RefinedFrom = pc.RefinedQuery
		th.KeyFindings = append(th.KeyFindings, "query was refined through feedback")
	}
	th.Assumptions = append(th.Assumptions, "inputs named in the query are available")
	return th
}

// draftPlan emits a fixed three-step shape: gather, analyze, compose. Step
// outputs feed forward through step references, which the critic treats as
// execution-time resolvable.
func (b *Backend) draftPlan(pc promptContext) plan.Draft {
	complexity := 0.5
	if pc.Complexity != nil {
		complexity = pc.Complexity.Score
	}
	goal := firstSentence(pc.UserQuery)
	if goal == "" {
		goal = "answer the query"
	}
	return plan.Draft{
		Goal: goal,
		Steps: []plan.Step{
			{
				Order:  1,
				Action: "gather-inputs",
				Parameters: map[string]plan.ParamValue{
					"query": plan.Literal(pc.UserQuery),
				},
				ExpectedOutcome: "inputs identified",
				Status:          plan.StepStatusPending,
			},
			{
				Order:        2,
				Action:       "analyze",
				Dependencies: []int{1},
				Parameters: map[string]plan.ParamValue{
					"source": plan.StepReference(1, "inputs"),
				},
				ExpectedOutcome: "analysis produced",
				Status:          plan.StepStatusPending,
			},
			{
				Order:        3,
				Action:       "compose-result",
				Dependencies: []int{2},
				Parameters: map[string]plan.ParamValue{
					"analysis": plan.StepReference(2, "analysis"),
				},
				ExpectedOutcome: "final answer drafted",
				Status:          plan.StepStatusPending,
			},
		},
		Confidence:          0.8,
		EstimatedComplexity: complexity,
	}
}

// reviewPlan returns the reasoning findings layered over the structural scan.
// The simulated critic never invents issues; blocking problems come from the
// deterministic parameter scan.
func (b *Backend) reviewPlan(pc promptContext) critique.Findings {
	f := critique.Findings{
		Rationale: "simulated review: structure checked, no blocking issues beyond unbound parameters",
	}
	if pc.Plan != nil && len(pc.Plan.Steps) > 0 {
		f.Strengths = append(f.Strengths,
			fmt.Sprintf("%d steps ordered with explicit dependencies", len(pc.Plan.Steps)))
	}
	return f
}

// executePlan drains the plan dependency-first: each pass runs every step
// whose dependencies have completed, resolving step references from recorded
// outputs. A placeholder reaching execution fails its step; steps left
// unreachable by a failure are skipped.
func (b *Backend) executePlan(pc promptContext) artifact.ExecutionResult {
	var res artifact.ExecutionResult
	if pc.Plan == nil {
		return res
	}
	res.PlanID = pc.Plan.PlanID

	// Execution always runs the full plan version from the top.
	work := pc.Plan.Clone()
	for i := range work.Steps {
		work.Steps[i].Status = plan.StepStatusPending
	}

	outputs := make(map[int]string, len(work.Steps))
	outcomes := make(map[int]artifact.StepOutcome, len(work.Steps))

	for {
		ready := plan.ReadySteps(work.Steps)
		if len(ready) == 0 {
			break
		}
		for _, order := range ready {
			step := work.StepByOrder(order)
			oc := artifact.StepOutcome{
				StepOrder: order,
				Status:    "completed",
				Resolved:  map[string]string{},
			}
			for name, pv := range step.Parameters {
				switch pv.Kind {
				case plan.ParamLiteral:
					oc.Resolved[name] = pv.Value
				case plan.ParamStepReference:
					prior, ok := outputs[pv.StepOrder]
					if !ok {
						oc.Status = "failed"
						oc.Error = fmt.Sprintf("step reference %d.%s has no recorded output", pv.StepOrder, pv.Field)
						continue
					}
					oc.Resolved[name] = fmt.Sprintf("%s/%s", prior, pv.Field)
				case plan.ParamPlaceholder:
					oc.Status = "failed"
					oc.Error = fmt.Sprintf("parameter %q is an unbound placeholder", name)
				}
			}
			if oc.Status == "completed" {
				oc.Output = fmt.Sprintf("%s done", step.Action)
				outputs[order] = oc.Output
				step.Status = plan.StepStatusCompleted
			} else {
				step.Status = plan.StepStatusFailed
			}
			outcomes[order] = oc
		}
	}

	// Whatever never became ready lost a dependency to a failure.
	for i := range work.Steps {
		if work.Steps[i].Status == plan.StepStatusPending {
			work.Steps[i].Status = plan.StepStatusSkipped
			outcomes[work.Steps[i].Order] = artifact.StepOutcome{
				StepOrder: work.Steps[i].Order,
				Status:    "skipped",
				Error:     "dependency did not complete",
			}
		}
	}

	orders := make([]int, 0, len(outcomes))
	for o := range outcomes {
		orders = append(orders, o)
	}
	sort.Ints(orders)
	for _, o := range orders {
		res.Outcomes = append(res.Outcomes, outcomes[o])
	}
	res.Success = plan.AllTerminal(work.Steps) && !plan.AnyFailed(work.Steps)
	return res
}

// redraftPlan revises the previous plan: placeholders become assumed
// literals, steps named by critic issues get their outcomes restated, and an
// untouched plan grows a final verification step so the revision is never a
// no-op.
func (b *Backend) redraftPlan(pc promptContext) plan.Draft {
	prev := pc.PreviousPlan
	if prev == nil {
		return b.draftPlan(pc)
	}

	flagged := make(map[int]string)
	if pc.Critique != nil {
		for _, is := range pc.Critique.Issues {
			if is.StepOrder > 0 {
				flagged[is.StepOrder] = is.Description
			}
		}
	}

	draft := plan.Draft{
		Goal:                prev.Goal,
		Confidence:          clamp01(prev.Confidence + 0.05),
		EstimatedComplexity: prev.EstimatedComplexity,
	}
	changed := false
	for _, s := range prev.Steps {
		step := s.Clone()
		step.Status = plan.StepStatusPending
		for name, pv := range step.Parameters {
			if pv.Kind == plan.ParamPlaceholder {
				step.Parameters[name] = plan.Literal("assumed-" + name)
				changed = true
			}
		}
		if desc, ok := flagged[step.Order]; ok {
			step.ExpectedOutcome = "addressed: " + truncate(desc, 60)
			changed = true
		}
		draft.Steps = append(draft.Steps, step)
	}

	if !changed {
		last := len(draft.Steps)
		draft.Steps = append(draft.Steps, plan.Step{
			Order:        last + 1,
			Action:       "verify-results",
			Dependencies: []int{last},
			Parameters: map[string]plan.ParamValue{
				"target": plan.StepReference(last, "result"),
			},
			ExpectedOutcome: "outcome verified against the goal",
			Status:          plan.StepStatusPending,
		})
	}
	return draft
}

func (b *Backend) summarize(pc promptContext) artifact.Summary {
	s := artifact.Summary{Answer: "No execution results available."}
	if pc.Plan != nil {
		s.PlanID = pc.Plan.PlanID
	}
	if pc.Execution == nil {
		return s
	}

	completed := 0
	for _, oc := range pc.Execution.Outcomes {
		if oc.Status == "completed" {
			s.Highlights = append(s.Highlights, oc.Output)
			completed++
		}
	}
	goal := "the goal"
	if pc.Plan != nil {
		goal = pc.Plan.Goal
	}
	s.Answer = fmt.Sprintf("Completed %d of %d steps for %q.",
		completed, len(pc.Execution.Outcomes), goal)
	return s
}

// extractJSON pulls the JSON document out of a prompt that may wrap it in
// markdown fences or prose.
func extractJSON(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{". ", "? ", "! ", "\n"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i+1]
			break
		}
	}
	return truncate(strings.TrimSpace(s), 120)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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
