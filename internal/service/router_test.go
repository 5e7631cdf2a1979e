package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainwright/chainwright/internal/adapter/memstore"
	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/confidence"
)

func newTestRouter(weights map[string]float64) (*Router, *Versioner) {
	v := NewVersioner(memstore.NewStore(), discardLogger())
	return NewRouter(v, confidence.DefaultTable(), weights, discardLogger()), v
}

func score(agent string, s float64) confidence.AgentScore {
	return confidence.AgentScore{AgentName: agent, Score: s, Timestamp: time.Now().UTC()}
}

func TestRouterBoundaryDecisions(t *testing.T) {
	cases := []struct {
		name string
		conf float64
		want confidence.Decision
	}{
		{"at execute bound", 0.85, confidence.DecisionExecute},
		{"just below execute", 0.849999, confidence.DecisionReview},
		{"at review bound", 0.65, confidence.DecisionReview},
		{"at rethink bound", 0.4, confidence.DecisionRethink},
		{"just below rethink", 0.39999, confidence.DecisionEscalate},
		{"top of range", 1.0, confidence.DecisionExecute},
		{"bottom of range", 0.0, confidence.DecisionEscalate},
	}
	r, _ := newTestRouter(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cs, err := r.Decide(context.Background(), "r1", []confidence.AgentScore{score("critic", tc.conf)})
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if cs.Decision != tc.want {
				t.Errorf("Decide(%v) = %q, want %q", tc.conf, cs.Decision, tc.want)
			}
		})
	}
}

func TestRouterEmptyScoreSet(t *testing.T) {
	r, _ := newTestRouter(nil)

	_, err := r.Decide(context.Background(), "r1", nil)
	if !errors.Is(err, domain.ErrEmptyScoreSet) {
		t.Errorf("err = %v, want ErrEmptyScoreSet", err)
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrEmptyScoreSet to be a validation error", err)
	}
}

func TestRouterUniformMean(t *testing.T) {
	r, _ := newTestRouter(nil)

	got, err := r.Aggregate([]confidence.AgentScore{
		score("thought-generator", 0.82),
		score("planner", 0.80),
		score("critic", 0.98),
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := (0.82 + 0.80 + 0.98) / 3
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mean = %v, want %v", got, want)
	}
}

func TestRouterWeightedMean(t *testing.T) {
	r, _ := newTestRouter(map[string]float64{"critic": 3})

	got, err := r.Aggregate([]confidence.AgentScore{
		score("planner", 0.4),
		score("critic", 0.8),
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := (0.4*1 + 0.8*3) / 4
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("weighted mean = %v, want %v", got, want)
	}
}

func TestRouterZeroWeights(t *testing.T) {
	r, _ := newTestRouter(map[string]float64{"critic": 0})

	_, err := r.Aggregate([]confidence.AgentScore{score("critic", 0.9)})
	if !errors.Is(err, domain.ErrEmptyScoreSet) {
		t.Errorf("err = %v, want ErrEmptyScoreSet when weights cancel all scores", err)
	}
}

func TestRouterStoresDecisionArtifact(t *testing.T) {
	r, v := newTestRouter(nil)
	ctx := context.Background()

	first, err := r.Decide(ctx, "r1", []confidence.AgentScore{score("critic", 0.9)})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := r.Decide(ctx, "r1", []confidence.AgentScore{score("critic", 0.5)}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	recs, err := v.Versions(ctx, "r1", artifact.KindConfidence)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("stored decisions = %d, want 2", len(recs))
	}

	var stored confidence.ConfidenceScore
	if err := recs[0].Decode(&stored); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if stored.Decision != first.Decision || stored.OverallConfidence != first.OverallConfidence {
		t.Errorf("stored = %+v, want first decision round-tripped", stored)
	}
	if stored.Reasoning == "" {
		t.Error("stored decision missing reasoning")
	}
	if len(stored.Inputs) != 1 {
		t.Errorf("stored inputs = %d, want 1", len(stored.Inputs))
	}
}

func TestRouterFallsBackToDefaultTable(t *testing.T) {
	v := NewVersioner(memstore.NewStore(), discardLogger())
	r := NewRouter(v, confidence.Table{}, nil, discardLogger())

	cs, err := r.Decide(context.Background(), "r1", []confidence.AgentScore{score("critic", 0.9)})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if cs.Decision != confidence.DecisionExecute {
		t.Errorf("decision = %q, want execute from default table", cs.Decision)
	}
}
