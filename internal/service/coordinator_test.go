package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chainwright/chainwright/internal/adapter/memstore"
	"github.com/chainwright/chainwright/internal/config"
	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/confidence"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/domain/plan"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/port/reasoning"
)

// scriptedPlanner wraps the simulated backend and overrides the planner's
// output with fixed JSON, so tests can steer a run into a specific plan
// shape while every other agent stays simulated.
type scriptedPlanner struct {
	delegate reasoning.Backend
	planJSON string
}

func (s *scriptedPlanner) Name() string { return "scripted" }

func (s *scriptedPlanner) Complete(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	if s.planJSON != "" && req.Agent == artifact.KindPlan.AgentName() {
		return &reasoning.Response{Content: s.planJSON, Model: "scripted"}, nil
	}
	return s.delegate.Complete(ctx, req)
}

// placeholderPlanJSON drafts a two-step plan whose second step carries an
// unbound material parameter. The critic scores it 0.925 with one open
// question, which lands the aggregate in the review band.
const placeholderPlanJSON = `{
  "goal": "summarize the selected material",
  "steps": [
    {
      "order": 1,
      "action": "collect-requirements",
      "parameters": {"query": {"kind": "literal", "value": "summarize the material"}},
      "expected_outcome": "requirements listed"
    },
    {
      "order": 2,
      "action": "select-material",
      "dependencies": [1],
      "parameters": {"material": {"kind": "placeholder", "reason": "material not specified"}},
      "expected_outcome": "material chosen"
    }
  ],
  "confidence": 0.75,
  "estimated_complexity": 0.5
}`

type coordHarness struct {
	co     *Coordinator
	events *memstore.EventLog
	ver    *Versioner
	tr     *Tracker
}

func newCoordHarness(t *testing.T, backend reasoning.Backend, table confidence.Table) *coordHarness {
	t.Helper()
	if backend == nil {
		var err error
		backend, err = reasoning.New("simulated", nil)
		if err != nil {
			t.Fatalf("simulated backend: %v", err)
		}
	}
	log := discardLogger()
	store := memstore.NewStore()
	events := memstore.NewEventLog()
	tr := NewTracker(store, log)
	ver := NewVersioner(store, log)
	inv := NewInvoker(backend, config.Defaults().Reasoning, log)
	cr := NewCritic(ver, inv, critique.DefaultWeights(), log)
	ro := NewRouter(ver, table, nil, log)
	re := NewReplanner(ver, inv, log)
	cfg := config.Pipeline{MaxConcurrent: 4, MaxReplanRounds: 3, StageTimeout: 10 * time.Second}
	co := NewCoordinator(tr, ver, inv, cr, ro, re, events, cfg, log)
	return &coordHarness{co: co, events: events, ver: ver, tr: tr}
}

// drain waits for all in-flight pipeline goroutines to settle.
func (h *coordHarness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.co.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func eventTypes(evs []event.PipelineEvent) []event.Type {
	out := make([]event.Type, len(evs))
	for i := range evs {
		out[i] = evs[i].Type
	}
	return out
}

func TestCoordinatorSubmitRunsToCompletion(t *testing.T) {
	h := newCoordHarness(t, nil, confidence.DefaultTable())
	ctx := context.Background()

	rc, err := h.co.Submit(ctx, request.CreateRequest{
		UserQuery: "Compare caching strategies for a read-heavy service and recommend one",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)

	got, err := h.tr.Get(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusCompleted {
		t.Fatalf("status = %s, want %s (fail reason %q)", got.Status, request.StatusCompleted, got.FailReason)
	}

	wantChain := []string{
		"complexity-detector", "thought-generator", "planner",
		"critic", "confidence-router", "executor", "summarizer",
	}
	if len(got.AgentChain) != len(wantChain) {
		t.Fatalf("agent chain = %v, want %v", got.AgentChain, wantChain)
	}
	for i, a := range wantChain {
		if got.AgentChain[i] != a {
			t.Fatalf("agent chain[%d] = %s, want %s", i, got.AgentChain[i], a)
		}
	}

	for _, kind := range []artifact.Kind{
		artifact.KindComplexity, artifact.KindThought, artifact.KindPlan,
		artifact.KindCritique, artifact.KindConfidence,
		artifact.KindExecution, artifact.KindSummary,
	} {
		rec, err := h.ver.Current(ctx, rc.RequestID, kind)
		if err != nil {
			t.Fatalf("current %s: %v", kind, err)
		}
		if rec.Version != 1 {
			t.Fatalf("%s version = %d, want 1", kind, rec.Version)
		}
	}

	var exec artifact.ExecutionResult
	rec, err := h.ver.Current(ctx, rc.RequestID, artifact.KindExecution)
	if err != nil {
		t.Fatalf("current execution: %v", err)
	}
	if err := rec.Decode(&exec); err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	if !exec.Success {
		t.Fatalf("execution success = false, outcomes %+v", exec.Outcomes)
	}

	evs, err := h.events.LoadByRequest(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("load trail: %v", err)
	}
	if len(evs) == 0 {
		t.Fatal("empty trail")
	}
	if evs[0].Type != event.TypeRequestCreated {
		t.Fatalf("first event = %s, want %s", evs[0].Type, event.TypeRequestCreated)
	}
	if last := evs[len(evs)-1]; last.Type != event.TypeRequestCompleted {
		t.Fatalf("last event = %s, want %s", last.Type, event.TypeRequestCompleted)
	}
	for i, ev := range evs {
		if ev.Seq != i+1 {
			t.Fatalf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	decisions := 0
	for _, ev := range evs {
		if ev.Type != event.TypeDecisionMade {
			continue
		}
		decisions++
		var p struct {
			Decision string `json:"decision"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("decode decision payload: %v", err)
		}
		if p.Decision != string(confidence.DecisionExecute) {
			t.Fatalf("decision = %s, want execute", p.Decision)
		}
	}
	if decisions != 1 {
		t.Fatalf("decision events = %d, want 1 (trail: %v)", decisions, eventTypes(evs))
	}
}

func TestCoordinatorSubmitRejectsEmptyQuery(t *testing.T) {
	h := newCoordHarness(t, nil, confidence.DefaultTable())

	_, err := h.co.Submit(context.Background(), request.CreateRequest{UserQuery: "   "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCoordinatorPausesOnReview(t *testing.T) {
	sim, err := reasoning.New("simulated", nil)
	if err != nil {
		t.Fatalf("simulated backend: %v", err)
	}
	backend := &scriptedPlanner{delegate: sim, planJSON: placeholderPlanJSON}
	h := newCoordHarness(t, backend, confidence.DefaultTable())
	ctx := context.Background()

	rc, err := h.co.Submit(ctx, request.CreateRequest{UserQuery: "Summarize the material for me"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)

	info, ok := h.co.Paused(rc.RequestID)
	if !ok {
		t.Fatal("request not paused")
	}
	if info.Decision != confidence.DecisionReview {
		t.Fatalf("pause decision = %s, want review", info.Decision)
	}
	if info.OpenQuestions != 1 {
		t.Fatalf("open questions = %d, want 1", info.OpenQuestions)
	}

	got, err := h.tr.Get(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusInProgress {
		t.Fatalf("status = %s, want %s", got.Status, request.StatusInProgress)
	}

	if _, err := h.ver.Current(ctx, rc.RequestID, artifact.KindExecution); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("execution artifact err = %v, want ErrNotFound", err)
	}

	evs, err := h.events.LoadByRequest(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("load trail: %v", err)
	}
	if last := evs[len(evs)-1]; last.Type != event.TypeRequestPaused {
		t.Fatalf("last event = %s, want %s", last.Type, event.TypeRequestPaused)
	}
}

func TestCoordinatorResumeExecutesCurrentPlan(t *testing.T) {
	sim, err := reasoning.New("simulated", nil)
	if err != nil {
		t.Fatalf("simulated backend: %v", err)
	}
	backend := &scriptedPlanner{delegate: sim, planJSON: placeholderPlanJSON}
	h := newCoordHarness(t, backend, confidence.DefaultTable())
	ctx := context.Background()

	rc, err := h.co.Submit(ctx, request.CreateRequest{UserQuery: "Summarize the material for me"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)
	if _, ok := h.co.Paused(rc.RequestID); !ok {
		t.Fatal("request not paused")
	}

	if _, err := h.co.Resume(ctx, rc.RequestID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	h.drain(t)

	if _, ok := h.co.Paused(rc.RequestID); ok {
		t.Fatal("request still paused after resume")
	}
	got, err := h.tr.Get(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusCompleted {
		t.Fatalf("status = %s, want %s (fail reason %q)", got.Status, request.StatusCompleted, got.FailReason)
	}

	// The plan executed as-is, so the unbound placeholder fails its step.
	var exec artifact.ExecutionResult
	rec, err := h.ver.Current(ctx, rc.RequestID, artifact.KindExecution)
	if err != nil {
		t.Fatalf("current execution: %v", err)
	}
	if err := rec.Decode(&exec); err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	if exec.Success {
		t.Fatal("execution succeeded, want partial failure on the placeholder step")
	}

	evs, err := h.events.LoadByRequest(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("load trail: %v", err)
	}
	resumed := false
	for _, ev := range evs {
		if ev.Type == event.TypeRequestResumed {
			resumed = true
		}
	}
	if !resumed {
		t.Fatalf("no resume event in trail: %v", eventTypes(evs))
	}

	if _, err := h.co.Resume(ctx, rc.RequestID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("second resume err = %v, want ErrValidation", err)
	}
}

func TestCoordinatorResumeNotPaused(t *testing.T) {
	h := newCoordHarness(t, nil, confidence.DefaultTable())

	_, err := h.co.Resume(context.Background(), "r-unknown")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCoordinatorFeedbackRebindRoutesToExecution(t *testing.T) {
	sim, err := reasoning.New("simulated", nil)
	if err != nil {
		t.Fatalf("simulated backend: %v", err)
	}
	backend := &scriptedPlanner{delegate: sim, planJSON: placeholderPlanJSON}
	h := newCoordHarness(t, backend, confidence.DefaultTable())
	ctx := context.Background()

	rc, err := h.co.Submit(ctx, request.CreateRequest{UserQuery: "Summarize the material for me"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)
	if _, ok := h.co.Paused(rc.RequestID); !ok {
		t.Fatal("request not paused")
	}

	res, err := h.co.Feedback(ctx, rc.RequestID, FeedbackRequest{
		Answers: []critique.FeedbackAnswer{{QuestionID: "q1", Answer: "the quarterly launch report"}},
	})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if res.Mode != FeedbackRebind {
		t.Fatalf("mode = %s, want %s", res.Mode, FeedbackRebind)
	}
	if res.Critique.Recommendation != critique.RecommendApprove {
		t.Fatalf("recommendation = %s, want approve", res.Critique.Recommendation)
	}
	if len(res.Critique.FollowUpQuestions) != 0 {
		t.Fatalf("open questions = %d, want 0", len(res.Critique.FollowUpQuestions))
	}
	h.drain(t)

	got, err := h.tr.Get(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusCompleted {
		t.Fatalf("status = %s, want %s (fail reason %q)", got.Status, request.StatusCompleted, got.FailReason)
	}
	if _, ok := h.co.Paused(rc.RequestID); ok {
		t.Fatal("request still paused after feedback")
	}

	cur, err := h.ver.CurrentPlan(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("current plan: %v", err)
	}
	if cur.PlanVersion != 2 {
		t.Fatalf("plan version = %d, want 2", cur.PlanVersion)
	}
	step := cur.StepByOrder(2)
	if step == nil {
		t.Fatal("rebound plan lost step 2")
	}
	pv, ok := step.Parameters["material"]
	if !ok || pv.Kind != plan.ParamLiteral || pv.Value != "the quarterly launch report" {
		t.Fatalf("material param = %+v, want bound literal", pv)
	}

	var exec artifact.ExecutionResult
	rec, err := h.ver.Current(ctx, rc.RequestID, artifact.KindExecution)
	if err != nil {
		t.Fatalf("current execution: %v", err)
	}
	if err := rec.Decode(&exec); err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	if !exec.Success {
		t.Fatalf("execution success = false, outcomes %+v", exec.Outcomes)
	}

	evs, err := h.events.LoadByRequest(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("load trail: %v", err)
	}
	feedbackSeen := false
	for _, ev := range evs {
		if ev.Type == event.TypeFeedbackReceived {
			feedbackSeen = true
		}
	}
	if !feedbackSeen {
		t.Fatalf("no feedback event in trail: %v", eventTypes(evs))
	}
}

func TestCoordinatorFeedbackOnCompletedRequest(t *testing.T) {
	h := newCoordHarness(t, nil, confidence.DefaultTable())
	ctx := context.Background()

	rc, err := h.co.Submit(ctx, request.CreateRequest{
		UserQuery: "Compare caching strategies for a read-heavy service and recommend one",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)

	_, err = h.co.Feedback(ctx, rc.RequestID, FeedbackRequest{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCoordinatorReplanBudgetExhausted(t *testing.T) {
	// A table that never executes forces rethink until the round budget runs
	// out, at which point the run pauses as an escalation.
	table := confidence.Table{
		{Min: 0.99, Decision: confidence.DecisionExecute},
		{Min: 0, Decision: confidence.DecisionRethink},
	}
	h := newCoordHarness(t, nil, table)
	ctx := context.Background()

	rc, err := h.co.Submit(ctx, request.CreateRequest{
		UserQuery: "Compare caching strategies for a read-heavy service and recommend one",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)

	info, ok := h.co.Paused(rc.RequestID)
	if !ok {
		t.Fatal("request not paused")
	}
	if info.Decision != confidence.DecisionEscalate {
		t.Fatalf("pause decision = %s, want escalate", info.Decision)
	}
	if info.Reason != "replan rounds exhausted" {
		t.Fatalf("pause reason = %q", info.Reason)
	}

	plans, err := h.ver.ListPlans(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(plans) != 4 {
		t.Fatalf("plan versions = %d, want 4 (initial + 3 replans)", len(plans))
	}
	replans, err := h.ver.Versions(ctx, rc.RequestID, artifact.KindReplan)
	if err != nil {
		t.Fatalf("replan versions: %v", err)
	}
	if len(replans) != 3 {
		t.Fatalf("replan artifacts = %d, want 3", len(replans))
	}

	evs, err := h.events.LoadByRequest(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("load trail: %v", err)
	}
	decisions := 0
	for _, ev := range evs {
		if ev.Type == event.TypeDecisionMade {
			decisions++
		}
	}
	if decisions != 4 {
		t.Fatalf("decision events = %d, want 4", decisions)
	}
	got, err := h.tr.Get(ctx, rc.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusInProgress {
		t.Fatalf("status = %s, want %s", got.Status, request.StatusInProgress)
	}
}

func TestCoordinatorConcurrentSubmits(t *testing.T) {
	h := newCoordHarness(t, nil, confidence.DefaultTable())
	ctx := context.Background()

	const n = 6
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rc, err := h.co.Submit(ctx, request.CreateRequest{
			UserQuery: "Compare caching strategies for a read-heavy service and recommend one",
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, rc.RequestID)
	}
	h.drain(t)

	for _, id := range ids {
		got, err := h.tr.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != request.StatusCompleted {
			t.Fatalf("request %s status = %s, want completed", id, got.Status)
		}
		if _, err := h.ver.Current(ctx, id, artifact.KindSummary); err != nil {
			t.Fatalf("summary for %s: %v", id, err)
		}
	}
}
