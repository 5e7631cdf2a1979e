package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/confidence"
)

// Router aggregates per-agent confidence scores into a single value and maps
// it onto the ordered threshold table. Aggregation is a weighted mean over
// the configured agent weights; agents without a configured weight count at
// 1. The decision is recorded as a confidence artifact on the trail.
type Router struct {
	versioner *Versioner
	table     confidence.Table
	weights   map[string]float64
	logger    *slog.Logger
}

// NewRouter creates a Router. An invalid or empty table falls back to the
// default thresholds.
func NewRouter(versioner *Versioner, table confidence.Table, weights map[string]float64, log *slog.Logger) *Router {
	if err := table.Validate(); err != nil {
		table = confidence.DefaultTable()
	}
	return &Router{versioner: versioner, table: table, weights: weights, logger: log}
}

// Aggregate computes the weighted mean of the agent scores. Deciding over an
// empty score set is a caller bug, never a silent default route.
func (r *Router) Aggregate(scores []confidence.AgentScore) (float64, error) {
	if len(scores) == 0 {
		return 0, domain.ErrEmptyScoreSet
	}

	var sum, weightSum float64
	for _, s := range scores {
		w := 1.0
		if cw, ok := r.weights[s.AgentName]; ok {
			w = cw
		}
		sum += s.Score * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0, fmt.Errorf("agent weights sum to zero: %w", domain.ErrEmptyScoreSet)
	}
	return sum / weightSum, nil
}

// Decide aggregates the scores, routes the result through the threshold
// table, and stores the decision as a confidence artifact.
func (r *Router) Decide(ctx context.Context, requestID string, scores []confidence.AgentScore) (*confidence.ConfidenceScore, error) {
	overall, err := r.Aggregate(scores)
	if err != nil {
		return nil, err
	}

	decision, used := r.table.Decide(overall)
	cs := &confidence.ConfidenceScore{
		OverallConfidence: overall,
		Decision:          decision,
		ThresholdUsed:     used,
		Reasoning:         routeReasoning(overall, decision, used, scores),
		Inputs:            scores,
		CreatedAt:         time.Now().UTC(),
	}

	if _, err := r.versioner.Save(ctx, requestID, artifact.KindConfidence, cs); err != nil {
		r.logger.WarnContext(ctx, "storage write warning",
			"request_id", requestID, "kind", string(artifact.KindConfidence), "error", err)
	}

	r.logger.InfoContext(ctx, "confidence routed",
		"request_id", requestID,
		"overall", overall,
		"decision", string(decision),
		"threshold", used.Min)
	return cs, nil
}

// routeReasoning renders a human-readable account of the routing decision,
// listing the inputs in descending score order.
func routeReasoning(overall float64, d confidence.Decision, used confidence.Threshold, scores []confidence.AgentScore) string {
	sorted := make([]confidence.AgentScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	parts := make([]string, len(sorted))
	for i, s := range sorted {
		parts[i] = fmt.Sprintf("%s=%.2f", s.AgentName, s.Score)
	}

	if d == confidence.DecisionEscalate && used.Min == 0 {
		return fmt.Sprintf("aggregate %.4f below every threshold (%s): escalate", overall, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("aggregate %.4f >= %.2f (%s): %s", overall, used.Min, strings.Join(parts, ", "), d)
}
