package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/plan"
)

// Replanner produces revised plan versions when the router routes a request
// to rethink. The revision is drafted against the prior plan and the critique
// that scored it, and is stored twice: as the next plan version and as a
// replan artifact carrying the delta from the original.
type Replanner struct {
	versioner *Versioner
	invoker   *Invoker
	logger    *slog.Logger
}

// NewReplanner creates a Replanner.
func NewReplanner(versioner *Versioner, invoker *Invoker, log *slog.Logger) *Replanner {
	return &Replanner{versioner: versioner, invoker: invoker, logger: log}
}

// Replan drafts a revision of the request's current plan. A request with no
// stored plan cannot be replanned; metaGuidance carries cross-cutting
// steering and may be empty.
func (r *Replanner) Replan(ctx context.Context, requestID, metaGuidance string) (*plan.ReplanOutput, error) {
	base, err := r.versioner.CurrentPlan(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrNoBasePlan)
		}
		return nil, err
	}

	crit, err := latestCritiqueFor(ctx, r.versioner, requestID, base.PlanID)
	if err != nil {
		return nil, err
	}

	d, err := r.invoker.RedraftPlan(ctx, base, crit, metaGuidance)
	if err != nil {
		return nil, err
	}

	var next *plan.Plan
	_, err = r.versioner.SaveWith(ctx, requestID, artifact.KindPlan, func(version int) (any, error) {
		np := plan.NewPlan(requestID, version, *d)
		if err := np.Validate(); err != nil {
			return nil, err
		}
		next = np
		return np, nil
	})
	if err != nil {
		if next == nil {
			return nil, fmt.Errorf("replanned version: %w", err)
		}
		r.logger.WarnContext(ctx, "storage write warning",
			"request_id", requestID, "kind", string(artifact.KindPlan), "error", err)
	}

	out := &plan.ReplanOutput{
		Plan:                  next,
		ChangesFromOriginal:   plan.Diff(base, next),
		AddressesCriticIssues: addressesIssues(base, next, crit),
		AddressesMetaGuidance: metaGuidance != "" && !equalSteps(base, next),
		OriginalPlanID:        base.PlanID,
		PlanVersion:           next.PlanVersion,
	}

	if _, err := r.versioner.Save(ctx, requestID, artifact.KindReplan, out); err != nil {
		r.logger.WarnContext(ctx, "storage write warning",
			"request_id", requestID, "kind", string(artifact.KindReplan), "error", err)
	}

	r.logger.InfoContext(ctx, "plan revised",
		"request_id", requestID,
		"base_version", base.PlanVersion,
		"new_version", next.PlanVersion,
		"changes", len(out.ChangesFromOriginal),
		"addresses_issues", out.AddressesCriticIssues)
	return out, nil
}

// addressesIssues reports whether every step a critic issue names was changed
// in the revision. Plan-wide issues (step order 0) count as addressed when
// anything changed at all.
func addressesIssues(base, next *plan.Plan, crit *critique.Critique) bool {
	if crit == nil || len(crit.Issues) == 0 {
		return false
	}
	changed := plan.ChangedSteps(base, next)
	anyChange := len(plan.Diff(base, next)) > 0
	for _, is := range crit.Issues {
		if is.StepOrder == 0 {
			if !anyChange {
				return false
			}
			continue
		}
		if !changed[is.StepOrder] {
			return false
		}
	}
	return true
}

func equalSteps(base, next *plan.Plan) bool {
	return len(plan.Diff(base, next)) == 0
}
