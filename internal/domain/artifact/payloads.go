package artifact

// Payload shapes for the black-box agents (complexity, thought, execution,
// summary). Plans, critiques and confidence scores carry richer invariants
// and live in their own packages.

// ComplexityAssessment is the complexity detection agent's output.
type ComplexityAssessment struct {
	Score     float64 `json:"score"` // 0..1
	Band      string  `json:"band"`  // simple, moderate, complex
	Reasoning string  `json:"reasoning,omitempty"`
}

// BandFor buckets a complexity score. Bounds are inclusive on the lower side.
func BandFor(score float64) string {
	switch {
	case score >= 0.7:
		return "complex"
	case score >= 0.35:
		return "moderate"
	default:
		return "simple"
	}
}

// Thought is the thought generation agent's output: the pre-planning analysis
// of the query, with the agent's own confidence in it.
type Thought struct {
	Approach    string   `json:"approach"`
	KeyFindings []string `json:"key_findings,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`
	Confidence  float64  `json:"confidence"`
	// RefinedFrom carries the refined user query when this thought was
	// regenerated during a feedback cycle.
	RefinedFrom string `json:"refined_from,omitempty"`
}

// StepOutcome records the executor's result for one plan step. Status values
// are owned by the executor.
type StepOutcome struct {
	StepOrder int               `json:"step_order"`
	Status    string            `json:"status"` // completed, failed, skipped
	Resolved  map[string]string `json:"resolved,omitempty"`
	Output    string            `json:"output,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ExecutionResult is the executor agent's output for one plan version.
type ExecutionResult struct {
	PlanID   string        `json:"plan_id"`
	Success  bool          `json:"success"`
	Outcomes []StepOutcome `json:"outcomes"`
}

// Summary is the final synthesis over the request trail.
type Summary struct {
	PlanID     string   `json:"plan_id"`
	Answer     string   `json:"answer"`
	Highlights []string `json:"highlights,omitempty"`
}
