package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	cwotel "github.com/chainwright/chainwright/internal/adapter/otel"
	"github.com/chainwright/chainwright/internal/config"
	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/confidence"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/domain/plan"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/logger"
	"github.com/chainwright/chainwright/internal/port/broadcast"
	"github.com/chainwright/chainwright/internal/port/eventlog"
	"github.com/chainwright/chainwright/internal/port/messagequeue"
)

const (
	defaultMaxConcurrent   = 8
	defaultMaxReplanRounds = 3
)

// PauseInfo describes why a request is waiting on a human decision.
type PauseInfo struct {
	Decision      confidence.Decision `json:"decision"`
	Reason        string              `json:"reason,omitempty"`
	OpenQuestions int                 `json:"open_questions"`
	PausedAt      time.Time           `json:"paused_at"`
}

type pausedRun struct {
	info PauseInfo
	plan *plan.Plan
}

// Coordinator drives each request through the agent chain: complexity,
// thought, planning, critique, confidence routing, then execution, pausing,
// or bounded replanning. It is the sole writer of request status and agent
// chain while a request is live, and every lifecycle transition is emitted
// to the event trail, the message queue, and connected stream clients.
type Coordinator struct {
	tracker   *Tracker
	versioner *Versioner
	invoker   *Invoker
	critic    *Critic
	router    *Router
	replanner *Replanner
	events    eventlog.Log
	cfg       config.Pipeline
	logger    *slog.Logger

	queue       messagequeue.Queue
	broadcaster broadcast.Broadcaster
	metrics     *cwotel.Metrics

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	paused map[string]*pausedRun
}

// NewCoordinator creates a Coordinator with all required services.
func NewCoordinator(
	tracker *Tracker,
	versioner *Versioner,
	invoker *Invoker,
	critic *Critic,
	router *Router,
	replanner *Replanner,
	events eventlog.Log,
	cfg config.Pipeline,
	log *slog.Logger,
) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxReplanRounds <= 0 {
		cfg.MaxReplanRounds = defaultMaxReplanRounds
	}
	return &Coordinator{
		tracker:   tracker,
		versioner: versioner,
		invoker:   invoker,
		critic:    critic,
		router:    router,
		replanner: replanner,
		events:    events,
		cfg:       cfg,
		logger:    log,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		paused:    make(map[string]*pausedRun),
	}
}

// SetQueue sets the optional message queue for event publication.
func (c *Coordinator) SetQueue(q messagequeue.Queue) { c.queue = q }

// SetBroadcaster sets the optional stream broadcaster for event fan-out.
func (c *Coordinator) SetBroadcaster(b broadcast.Broadcaster) { c.broadcaster = b }

// SetMetrics sets the optional metric instruments.
func (c *Coordinator) SetMetrics(m *cwotel.Metrics) { c.metrics = m }

// Submit opens a request and starts the pipeline asynchronously. The request
// context is returned immediately; progress is observable through the trail.
func (c *Coordinator) Submit(ctx context.Context, req request.CreateRequest) (*request.RequestContext, error) {
	rc, err := c.tracker.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RequestsTotal.Add(ctx, 1)
	}
	c.emit(ctx, rc.RequestID, event.TypeRequestCreated, "", map[string]any{"user_query": rc.UserQuery})

	c.launch(rc, func(runCtx context.Context) {
		c.run(runCtx, rc)
	})
	return rc, nil
}

// launch runs fn on a fresh goroutine holding one pipeline slot. The run
// context derives from the process, not the submitting call, so an HTTP
// client disconnect does not abort the pipeline.
func (c *Coordinator) launch(rc *request.RequestContext, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		runCtx := logger.WithRequestID(context.Background(), rc.RequestID)
		runCtx, span := cwotel.StartRequestSpan(runCtx, rc.RequestID)
		defer span.End()
		if err := c.sem.Acquire(runCtx, 1); err != nil {
			c.fail(runCtx, rc.RequestID, fmt.Errorf("acquire pipeline slot: %w", err))
			return
		}
		defer c.sem.Release(1)
		fn(runCtx)
	}()
}

func (c *Coordinator) run(ctx context.Context, rc *request.RequestContext) {
	th, p, err := c.draft(ctx, rc)
	if err != nil {
		c.fail(ctx, rc.RequestID, err)
		return
	}
	if err := c.route(ctx, rc, th.Confidence, p, nil); err != nil {
		c.fail(ctx, rc.RequestID, err)
	}
}

// draft runs the three drafting stages: complexity assessment, thought
// generation, and planning. The plan comes back versioned and stored.
func (c *Coordinator) draft(ctx context.Context, rc *request.RequestContext) (*artifact.Thought, *plan.Plan, error) {
	var ca *artifact.ComplexityAssessment
	err := c.stage(ctx, rc.RequestID, artifact.KindComplexity.AgentName(), func(sctx context.Context) error {
		var err error
		ca, err = c.invoker.AssessComplexity(sctx, rc.UserQuery)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	c.saveSoft(ctx, rc.RequestID, artifact.KindComplexity, ca)

	var th *artifact.Thought
	err = c.stage(ctx, rc.RequestID, artifact.KindThought.AgentName(), func(sctx context.Context) error {
		var err error
		th, err = c.invoker.GenerateThought(sctx, rc.UserQuery, "", ca)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	c.saveSoft(ctx, rc.RequestID, artifact.KindThought, th)

	var d *plan.Draft
	err = c.stage(ctx, rc.RequestID, artifact.KindPlan.AgentName(), func(sctx context.Context) error {
		var err error
		d, err = c.invoker.DraftPlan(sctx, rc.UserQuery, th, ca)
		return err
	})
	if err != nil {
		return nil, nil, err
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
			return nil, nil, fmt.Errorf("version plan: %w", err)
		}
		c.storageWarn(ctx, rc.RequestID, artifact.KindPlan, err)
	}
	return th, p, nil
}

// route scores the plan, routes the aggregate confidence, and acts on the
// decision: execute, pause for review or escalation, or replan within the
// round budget. A pre-computed critique from a feedback cycle skips the
// first scoring pass.
func (c *Coordinator) route(ctx context.Context, rc *request.RequestContext, thoughtConf float64, p *plan.Plan, cr *critique.Critique) error {
	if cr == nil {
		var err error
		cr, err = c.scoreStage(ctx, rc.RequestID, p)
		if err != nil {
			return err
		}
	}

	rounds := 0
	for {
		scores := []confidence.AgentScore{
			{AgentName: artifact.KindThought.AgentName(), Score: thoughtConf, Timestamp: time.Now().UTC()},
			{AgentName: artifact.KindPlan.AgentName(), Score: p.Confidence, Timestamp: time.Now().UTC()},
			{AgentName: artifact.KindCritique.AgentName(), Score: cr.OverallScore, Timestamp: time.Now().UTC()},
		}

		var cs *confidence.ConfidenceScore
		err := c.stage(ctx, rc.RequestID, artifact.KindConfidence.AgentName(), func(sctx context.Context) error {
			var err error
			cs, err = c.router.Decide(sctx, rc.RequestID, scores)
			return err
		})
		if err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("decision", string(cs.Decision)),
			))
		}
		c.emit(ctx, rc.RequestID, event.TypeDecisionMade, artifact.KindConfidence.AgentName(), map[string]any{
			"decision":           string(cs.Decision),
			"overall_confidence": cs.OverallConfidence,
			"round":              rounds,
		})

		switch cs.Decision {
		case confidence.DecisionExecute:
			return c.execute(ctx, rc, p)
		case confidence.DecisionReview, confidence.DecisionEscalate:
			c.pause(ctx, rc.RequestID, p, cr, cs.Decision, "")
			return nil
		case confidence.DecisionRethink:
			if rounds >= c.cfg.MaxReplanRounds {
				c.pause(ctx, rc.RequestID, p, cr, confidence.DecisionEscalate, "replan rounds exhausted")
				return nil
			}
			rounds++
			if c.metrics != nil {
				c.metrics.ReplansTotal.Add(ctx, 1)
			}

			var out *plan.ReplanOutput
			err := c.stage(ctx, rc.RequestID, artifact.KindReplan.AgentName(), func(sctx context.Context) error {
				var err error
				out, err = c.replanner.Replan(sctx, rc.RequestID, "")
				return err
			})
			if err != nil {
				return err
			}
			p = out.Plan

			cr, err = c.scoreStage(ctx, rc.RequestID, p)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unroutable decision %q: %w", cs.Decision, domain.ErrValidation)
		}
	}
}

// scoreStage runs the critic as a tracked stage.
func (c *Coordinator) scoreStage(ctx context.Context, requestID string, p *plan.Plan) (*critique.Critique, error) {
	var cr *critique.Critique
	err := c.stage(ctx, requestID, artifact.KindCritique.AgentName(), func(sctx context.Context) error {
		var err error
		cr, err = c.critic.Score(sctx, p)
		return err
	})
	return cr, err
}

// execute runs the executor and summarizer stages and completes the request.
func (c *Coordinator) execute(ctx context.Context, rc *request.RequestContext, p *plan.Plan) error {
	var res *artifact.ExecutionResult
	err := c.stage(ctx, rc.RequestID, artifact.KindExecution.AgentName(), func(sctx context.Context) error {
		var err error
		res, err = c.invoker.ExecutePlan(sctx, p)
		return err
	})
	if err != nil {
		return err
	}
	c.saveSoft(ctx, rc.RequestID, artifact.KindExecution, res)

	var sum *artifact.Summary
	err = c.stage(ctx, rc.RequestID, artifact.KindSummary.AgentName(), func(sctx context.Context) error {
		var err error
		sum, err = c.invoker.Summarize(sctx, rc.UserQuery, p, res)
		return err
	})
	if err != nil {
		return err
	}
	c.saveSoft(ctx, rc.RequestID, artifact.KindSummary, sum)

	if err := c.tracker.Complete(ctx, rc.RequestID); err != nil {
		return err
	}
	c.emit(ctx, rc.RequestID, event.TypeRequestCompleted, "", map[string]any{
		"success": res.Success,
		"answer":  sum.Answer,
	})
	return nil
}

// pause parks the request until a human resumes it or supplies feedback. The
// request stays in-progress; pausing is a coordinator state, not a status.
func (c *Coordinator) pause(ctx context.Context, requestID string, p *plan.Plan, cr *critique.Critique, d confidence.Decision, reason string) {
	info := PauseInfo{
		Decision:      d,
		Reason:        reason,
		OpenQuestions: len(cr.FollowUpQuestions),
		PausedAt:      time.Now().UTC(),
	}
	c.mu.Lock()
	c.paused[requestID] = &pausedRun{info: info, plan: p}
	c.mu.Unlock()

	c.emit(ctx, requestID, event.TypeRequestPaused, "", info)
	c.logger.InfoContext(ctx, "request paused",
		"request_id", requestID,
		"decision", string(d),
		"reason", reason,
		"open_questions", info.OpenQuestions)
}

// Paused reports whether the request is waiting on a human decision.
func (c *Coordinator) Paused(requestID string) (PauseInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.paused[requestID]
	if !ok {
		return PauseInfo{}, false
	}
	return ps.info, true
}

// Resume continues a paused request by executing its current plan. Review and
// escalation pauses both resume this way; a reviewer wanting changes submits
// feedback instead.
func (c *Coordinator) Resume(ctx context.Context, requestID string) (*request.RequestContext, error) {
	c.mu.Lock()
	ps, ok := c.paused[requestID]
	if ok {
		delete(c.paused, requestID)
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("request %s is not paused: %w", requestID, domain.ErrValidation)
	}

	rc, err := c.tracker.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, requestID, event.TypeRequestResumed, "", map[string]any{"decision": string(ps.info.Decision)})

	c.launch(rc, func(runCtx context.Context) {
		if err := c.execute(runCtx, rc, ps.plan); err != nil {
			c.fail(runCtx, rc.RequestID, err)
		}
	})
	return rc, nil
}

// Feedback applies a user's critique feedback. When the request was paused
// the fresh critique re-enters routing asynchronously, so an improved plan
// can proceed to execution without a separate resume call.
func (c *Coordinator) Feedback(ctx context.Context, requestID string, req FeedbackRequest) (*FeedbackResult, error) {
	rc, err := c.tracker.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rc.Status.IsTerminal() {
		return nil, fmt.Errorf("request %s is %s: %w", requestID, rc.Status, domain.ErrValidation)
	}
	c.emit(ctx, requestID, event.TypeFeedbackReceived, "", map[string]any{
		"answers": len(req.Answers),
		"refined": req.RefinedUserQuery != "",
	})

	res, err := c.critic.ApplyFeedback(ctx, rc, req)
	if err != nil {
		return nil, err
	}

	if res.Mode == FeedbackRegenerate {
		c.advanceQuiet(ctx, requestID, artifact.KindThought.AgentName())
		c.advanceQuiet(ctx, requestID, artifact.KindPlan.AgentName())
	}
	c.advanceQuiet(ctx, requestID, artifact.KindCritique.AgentName())

	c.mu.Lock()
	_, wasPaused := c.paused[requestID]
	if wasPaused {
		delete(c.paused, requestID)
	}
	c.mu.Unlock()

	if wasPaused {
		thoughtConf := c.storedThoughtConfidence(ctx, requestID)
		c.launch(rc, func(runCtx context.Context) {
			if err := c.route(runCtx, rc, thoughtConf, res.Plan, res.Critique); err != nil {
				c.fail(runCtx, rc.RequestID, err)
			}
		})
	}
	return res, nil
}

// Shutdown waits for in-flight pipelines to finish or the context to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// stage wraps one agent invocation: the agent joins the chain, start and end
// events bracket the work, and the per-stage deadline applies.
func (c *Coordinator) stage(ctx context.Context, requestID, agentName string, fn func(ctx context.Context) error) error {
	if err := c.tracker.Advance(ctx, requestID, agentName); err != nil {
		return err
	}
	c.emit(ctx, requestID, event.TypeStageStarted, agentName, nil)

	sctx := ctx
	if c.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, c.cfg.StageTimeout)
		defer cancel()
	}

	sctx, span := cwotel.StartStageSpan(sctx, requestID, agentName)
	start := time.Now()
	err := fn(sctx)
	span.End()

	if c.metrics != nil {
		c.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("agent", agentName),
			attribute.Bool("error", err != nil),
		))
	}
	if err != nil {
		c.emit(ctx, requestID, event.TypeStageFailed, agentName, map[string]any{"error": err.Error()})
		return fmt.Errorf("stage %s: %w", agentName, err)
	}
	c.emit(ctx, requestID, event.TypeStageCompleted, agentName, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// saveSoft appends an artifact, downgrading a write failure to a storage
// warning so the pipeline continues with the in-memory value.
func (c *Coordinator) saveSoft(ctx context.Context, requestID string, kind artifact.Kind, payload any) {
	if _, err := c.versioner.Save(ctx, requestID, kind, payload); err != nil {
		c.storageWarn(ctx, requestID, kind, err)
	}
}

func (c *Coordinator) storageWarn(ctx context.Context, requestID string, kind artifact.Kind, err error) {
	c.logger.WarnContext(ctx, "storage write warning",
		"request_id", requestID, "kind", string(kind), "error", err)
	c.emit(ctx, requestID, event.TypeStorageWarning, kind.AgentName(), map[string]any{
		"kind":  string(kind),
		"error": err.Error(),
	})
}

func (c *Coordinator) advanceQuiet(ctx context.Context, requestID, agentName string) {
	if err := c.tracker.Advance(ctx, requestID, agentName); err != nil {
		c.logger.WarnContext(ctx, "agent chain append failed",
			"request_id", requestID, "agent", agentName, "error", err)
	}
}

// storedThoughtConfidence reads the latest thought's confidence, defaulting
// to a neutral value when the trail has none.
func (c *Coordinator) storedThoughtConfidence(ctx context.Context, requestID string) float64 {
	rec, err := c.versioner.Current(ctx, requestID, artifact.KindThought)
	if err != nil {
		return 0.5
	}
	var th artifact.Thought
	if err := rec.Decode(&th); err != nil {
		return 0.5
	}
	return th.Confidence
}

func (c *Coordinator) fail(ctx context.Context, requestID string, cause error) {
	c.logger.ErrorContext(ctx, "pipeline failed", "request_id", requestID, "error", cause)
	if err := c.tracker.Fail(ctx, requestID, cause.Error()); err != nil {
		c.logger.ErrorContext(ctx, "mark failed", "request_id", requestID, "error", err)
	}
	c.emit(ctx, requestID, event.TypeRequestFailed, "", map[string]any{"error": cause.Error()})
}

// emit appends a lifecycle event to the trail and fans it out to the queue
// and stream clients. Emission failures never fail the pipeline.
func (c *Coordinator) emit(ctx context.Context, requestID string, t event.Type, agentName string, payload any) {
	ev, err := event.New(requestID, t, agentName, payload)
	if err != nil {
		c.logger.ErrorContext(ctx, "build event", "request_id", requestID, "type", string(t), "error", err)
		return
	}
	if err := c.events.Append(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "event append failed",
			"request_id", requestID, "type", string(t), "error", err)
	}
	if c.queue != nil {
		if data, err := json.Marshal(ev); err == nil {
			if err := c.queue.Publish(ctx, messagequeue.SubjectFor(t), data); err != nil {
				c.logger.WarnContext(ctx, "event publish failed",
					"request_id", requestID, "type", string(t), "error", err)
			}
		}
	}
	if c.broadcaster != nil {
		c.broadcaster.Broadcast(ctx, *ev)
	}
}
