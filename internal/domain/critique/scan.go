package critique

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chainwright/chainwright/internal/domain/plan"
)

// ParamRef names one step parameter found by the scan.
type ParamRef struct {
	StepOrder int    `json:"step_order"`
	Name      string `json:"name"`
	Reason    string `json:"reason,omitempty"`
}

// ParamScan classifies every unbound step parameter in a plan.
type ParamScan struct {
	// Placeholders await user input and always raise a question.
	Placeholders []ParamRef `json:"placeholders,omitempty"`
	// StepRefs bind at execution time from a prior step's output.
	StepRefs []ParamRef `json:"step_refs,omitempty"`
	// Fillers are literals carrying obviously generic filler text, such as
	// a restated parameter name. They raise a question like placeholders.
	Fillers []ParamRef `json:"fillers,omitempty"`
}

// ScanPlan walks every step parameter and classifies the unbound ones.
// Results are ordered by (step order, parameter name) so downstream question
// ids are deterministic.
func ScanPlan(p *plan.Plan) ParamScan {
	var scan ParamScan
	for _, s := range sortedSteps(p.Steps) {
		for _, name := range sortedParamNames(s.Parameters) {
			pv := s.Parameters[name]
			switch pv.Kind {
			case plan.ParamPlaceholder:
				scan.Placeholders = append(scan.Placeholders, ParamRef{
					StepOrder: s.Order, Name: name, Reason: pv.Reason,
				})
			case plan.ParamStepReference:
				scan.StepRefs = append(scan.StepRefs, ParamRef{
					StepOrder: s.Order, Name: name,
					Reason: fmt.Sprintf("bound from step %d output %q", pv.StepOrder, pv.Field),
				})
			case plan.ParamLiteral:
				if LooksLikeFiller(name, pv.Value) {
					scan.Fillers = append(scan.Fillers, ParamRef{
						StepOrder: s.Order, Name: name,
						Reason: fmt.Sprintf("literal %q looks like filler text", pv.Value),
					})
				}
			}
		}
	}
	return scan
}

// fillerTokens are values reasoning backends substitute when they have no
// real value to give.
var fillerTokens = map[string]bool{
	"": true, "tbd": true, "todo": true, "placeholder": true, "unknown": true,
	"n/a": true, "na": true, "none": true, "xxx": true, "value": true,
	"string": true, "example": true, "sample": true, "test": true,
}

// LooksLikeFiller reports whether a literal value is obviously generic filler
// text rather than a real binding: a known filler token, a bracketed template
// marker, or a restatement of the parameter's own name.
func LooksLikeFiller(name, value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if fillerTokens[v] {
		return true
	}
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		return true
	}
	if strings.HasPrefix(v, "{{") && strings.HasSuffix(v, "}}") {
		return true
	}
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		return true
	}
	if strings.HasPrefix(v, "your_") || strings.HasPrefix(v, "your ") {
		return true
	}
	return normalizeToken(v) == normalizeToken(name)
}

func normalizeToken(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, s)
}

// BuildQuestions merges the structural missing-info questions from a scan
// with reasoning-derived extras, assigning sequential ids q1..qN. Structural
// questions come first in scan order, so ids are stable across re-scores.
func BuildQuestions(scan ParamScan, extra []FollowUpQuestion) []FollowUpQuestion {
	var qs []FollowUpQuestion
	for _, ref := range scan.Placeholders {
		qs = append(qs, FollowUpQuestion{
			Category:  CategoryMissingInfo,
			Priority:  PriorityHigh,
			Question:  missingInfoQuestion(ref),
			StepOrder: ref.StepOrder,
			Parameter: ref.Name,
		})
	}
	for _, ref := range scan.Fillers {
		qs = append(qs, FollowUpQuestion{
			Category:  CategoryMissingInfo,
			Priority:  PriorityMedium,
			Question:  missingInfoQuestion(ref),
			StepOrder: ref.StepOrder,
			Parameter: ref.Name,
		})
	}
	qs = append(qs, extra...)
	for i := range qs {
		qs[i].ID = fmt.Sprintf("q%d", i+1)
	}
	return qs
}

func missingInfoQuestion(ref ParamRef) string {
	if ref.Reason != "" {
		return fmt.Sprintf("What value should %q use in step %d? (%s)", ref.Name, ref.StepOrder, ref.Reason)
	}
	return fmt.Sprintf("What value should %q use in step %d?", ref.Name, ref.StepOrder)
}

func sortedSteps(steps []plan.Step) []plan.Step {
	out := append([]plan.Step(nil), steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortedParamNames(params map[string]plan.ParamValue) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
