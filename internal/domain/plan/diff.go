package plan

import (
	"fmt"
	"sort"
)

// ChangeType classifies one difference between two plan versions.
type ChangeType string

const (
	ChangeGoal         ChangeType = "goal-changed"
	ChangeStepAdded    ChangeType = "step-added"
	ChangeStepRemoved  ChangeType = "step-removed"
	ChangeStepModified ChangeType = "step-modified"
)

// Change describes one difference between a base plan and its successor.
type Change struct {
	Type      ChangeType `json:"type"`
	StepOrder int        `json:"step_order,omitempty"`
	Detail    string     `json:"detail"`
}

// ReplanOutput wraps a newly produced plan version together with the delta
// from the version it replaces.
type ReplanOutput struct {
	Plan                  *Plan    `json:"plan"`
	ChangesFromOriginal   []Change `json:"changes_from_original"`
	AddressesCriticIssues bool     `json:"addresses_critic_issues"`
	AddressesMetaGuidance bool     `json:"addresses_meta_guidance"`
	OriginalPlanID        string   `json:"original_plan_id"`
	PlanVersion           int      `json:"plan_version"`
}

// Diff computes the ordered change list between a base plan and its
// successor. Step identity is the step order.
func Diff(base, next *Plan) []Change {
	var changes []Change
	if base.Goal != next.Goal {
		changes = append(changes, Change{
			Type:   ChangeGoal,
			Detail: fmt.Sprintf("goal changed from %q to %q", base.Goal, next.Goal),
		})
	}

	baseSteps := stepsByOrder(base.Steps)
	nextSteps := stepsByOrder(next.Steps)

	orders := make([]int, 0, len(baseSteps)+len(nextSteps))
	for o := range baseSteps {
		orders = append(orders, o)
	}
	for o := range nextSteps {
		if _, ok := baseSteps[o]; !ok {
			orders = append(orders, o)
		}
	}
	sort.Ints(orders)

	for _, o := range orders {
		b, inBase := baseSteps[o]
		n, inNext := nextSteps[o]
		switch {
		case !inBase:
			changes = append(changes, Change{
				Type:      ChangeStepAdded,
				StepOrder: o,
				Detail:    fmt.Sprintf("step %d added: %s", o, n.Action),
			})
		case !inNext:
			changes = append(changes, Change{
				Type:      ChangeStepRemoved,
				StepOrder: o,
				Detail:    fmt.Sprintf("step %d removed: %s", o, b.Action),
			})
		default:
			if detail := stepDelta(b, n); detail != "" {
				changes = append(changes, Change{
					Type:      ChangeStepModified,
					StepOrder: o,
					Detail:    fmt.Sprintf("step %d: %s", o, detail),
				})
			}
		}
	}
	return changes
}

// ChangedSteps returns the set of step orders that differ between the two
// plans, including added and removed steps. The replanner checks critic
// issues against this set.
func ChangedSteps(base, next *Plan) map[int]bool {
	changed := make(map[int]bool)
	for _, c := range Diff(base, next) {
		if c.StepOrder > 0 {
			changed[c.StepOrder] = true
		}
	}
	return changed
}

func stepsByOrder(steps []Step) map[int]Step {
	m := make(map[int]Step, len(steps))
	for _, s := range steps {
		m[s.Order] = s
	}
	return m
}

// stepDelta describes how a step changed, ignoring execution-time status.
func stepDelta(base, next Step) string {
	if base.Action != next.Action {
		return fmt.Sprintf("action changed from %q to %q", base.Action, next.Action)
	}
	if base.ExpectedOutcome != next.ExpectedOutcome {
		return "expected outcome changed"
	}
	if !equalDeps(base.Dependencies, next.Dependencies) {
		return "dependencies changed"
	}
	if delta := paramDelta(base.Parameters, next.Parameters); delta != "" {
		return delta
	}
	return ""
}

func paramDelta(base, next map[string]ParamValue) string {
	names := make([]string, 0, len(base)+len(next))
	for k := range base {
		names = append(names, k)
	}
	for k := range next {
		if _, ok := base[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	for _, k := range names {
		b, inBase := base[k]
		n, inNext := next[k]
		switch {
		case !inBase:
			return fmt.Sprintf("parameter %q added", k)
		case !inNext:
			return fmt.Sprintf("parameter %q removed", k)
		case b != n:
			return fmt.Sprintf("parameter %q changed", k)
		}
	}
	return ""
}

func equalDeps(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	bs := append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
