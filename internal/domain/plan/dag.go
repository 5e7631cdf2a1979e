package plan

// ReadySteps returns the orders of steps that are pending and have all
// dependencies completed, in ascending order. The executor drains the plan
// by repeatedly running ready steps.
func ReadySteps(steps []Step) []int {
	completed := make(map[int]bool, len(steps))
	for i := range steps {
		if steps[i].Status == StepStatusCompleted {
			completed[steps[i].Order] = true
		}
	}

	var ready []int
	for order := 1; order <= len(steps); order++ {
		s := stepWithOrder(steps, order)
		if s == nil || s.Status != StepStatusPending {
			continue
		}
		allDepsComplete := true
		for _, dep := range s.Dependencies {
			if !completed[dep] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, order)
		}
	}
	return ready
}

// AllTerminal returns true if every step is in a terminal state.
func AllTerminal(steps []Step) bool {
	for i := range steps {
		if !steps[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one step has failed.
func AnyFailed(steps []Step) bool {
	for i := range steps {
		if steps[i].Status == StepStatusFailed {
			return true
		}
	}
	return false
}

func stepWithOrder(steps []Step, order int) *Step {
	for i := range steps {
		if steps[i].Order == order {
			return &steps[i]
		}
	}
	return nil
}
