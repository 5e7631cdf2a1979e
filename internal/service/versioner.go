package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cwotel "github.com/chainwright/chainwright/internal/adapter/otel"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/plan"
	"github.com/chainwright/chainwright/internal/port/artifactstore"
)

// Versioner owns version numbering for the artifact trail. Every write for a
// request passes through a per-request critical section where the next
// version is read from the store immediately before the append. Version
// numbers are never cached or reserved ahead of time, so a crash between
// reads leaves no gaps and concurrent writers cannot double-allocate.
type Versioner struct {
	store   artifactstore.Store
	logger  *slog.Logger
	metrics *cwotel.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewVersioner creates a Versioner over the artifact store.
func NewVersioner(store artifactstore.Store, log *slog.Logger) *Versioner {
	return &Versioner{
		store:  store,
		logger: log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetMetrics sets the optional metric instruments.
func (v *Versioner) SetMetrics(m *cwotel.Metrics) { v.metrics = m }

// recordWrite counts one store append attempt.
func (v *Versioner) recordWrite(ctx context.Context, kind artifact.Kind, err error) {
	if v.metrics == nil {
		return
	}
	v.metrics.ArtifactWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("error", err != nil),
	))
}

// lockFor returns the mutex serializing writes for one request.
func (v *Versioner) lockFor(requestID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[requestID]
	if !ok {
		l = &sync.Mutex{}
		v.locks[requestID] = l
	}
	return l
}

// NextVersion reports the version the next save for this slot would get.
// It is advisory: the binding read happens inside Save's critical section.
func (v *Versioner) NextVersion(ctx context.Context, requestID string, kind artifact.Kind) (int, error) {
	maxV, err := v.store.MaxVersion(ctx, requestID, kind)
	if err != nil {
		return 0, fmt.Errorf("max version %s/%s: %w", requestID, kind, err)
	}
	return maxV + 1, nil
}

// Save allocates the next version for (requestID, kind) and appends the
// payload as that version, atomically with respect to other saves for the
// same request.
func (v *Versioner) Save(ctx context.Context, requestID string, kind artifact.Kind, payload any) (*artifact.Record, error) {
	l := v.lockFor(requestID)
	l.Lock()
	defer l.Unlock()

	maxV, err := v.store.MaxVersion(ctx, requestID, kind)
	if err != nil {
		return nil, fmt.Errorf("max version %s/%s: %w", requestID, kind, err)
	}

	rec, err := artifact.NewRecord(requestID, kind, maxV+1, payload)
	if err != nil {
		return nil, err
	}
	appendErr := v.store.Append(ctx, rec)
	v.recordWrite(ctx, kind, appendErr)
	if appendErr != nil {
		return nil, fmt.Errorf("append %s: %w", rec.Key(), appendErr)
	}

	v.logger.DebugContext(ctx, "artifact saved",
		"request_id", requestID, "kind", string(kind), "version", rec.Version)
	return rec, nil
}

// SaveWith allocates the next version inside the critical section and hands
// it to build, so payloads that carry their own version number are stamped
// with the allocated value before the append.
func (v *Versioner) SaveWith(ctx context.Context, requestID string, kind artifact.Kind, build func(version int) (any, error)) (*artifact.Record, error) {
	l := v.lockFor(requestID)
	l.Lock()
	defer l.Unlock()

	maxV, err := v.store.MaxVersion(ctx, requestID, kind)
	if err != nil {
		return nil, fmt.Errorf("max version %s/%s: %w", requestID, kind, err)
	}

	payload, err := build(maxV + 1)
	if err != nil {
		return nil, err
	}
	rec, err := artifact.NewRecord(requestID, kind, maxV+1, payload)
	if err != nil {
		return nil, err
	}
	appendErr := v.store.Append(ctx, rec)
	v.recordWrite(ctx, kind, appendErr)
	if appendErr != nil {
		return nil, fmt.Errorf("append %s: %w", rec.Key(), appendErr)
	}

	v.logger.DebugContext(ctx, "artifact saved",
		"request_id", requestID, "kind", string(kind), "version", rec.Version)
	return rec, nil
}

// SaveRecord appends a record at its preassigned version. The store accepts a
// bit-identical resubmission as a no-op and rejects a differing payload for
// an occupied slot with domain.ErrVersionConflict.
func (v *Versioner) SaveRecord(ctx context.Context, rec *artifact.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	l := v.lockFor(rec.RequestID)
	l.Lock()
	defer l.Unlock()

	err := v.store.Append(ctx, rec)
	v.recordWrite(ctx, rec.Kind, err)
	if err != nil {
		return fmt.Errorf("append %s: %w", rec.Key(), err)
	}
	return nil
}

// Get returns one artifact version.
func (v *Versioner) Get(ctx context.Context, requestID string, kind artifact.Kind, version int) (*artifact.Record, error) {
	return v.store.Get(ctx, requestID, kind, version)
}

// Current returns the highest version for the slot.
func (v *Versioner) Current(ctx context.Context, requestID string, kind artifact.Kind) (*artifact.Record, error) {
	return v.store.Current(ctx, requestID, kind)
}

// Versions returns all versions for the slot in ascending order.
func (v *Versioner) Versions(ctx context.Context, requestID string, kind artifact.Kind) ([]artifact.Record, error) {
	return v.store.Versions(ctx, requestID, kind)
}

// CurrentPlan returns the latest plan version for the request.
func (v *Versioner) CurrentPlan(ctx context.Context, requestID string) (*plan.Plan, error) {
	rec, err := v.store.Current(ctx, requestID, artifact.KindPlan)
	if err != nil {
		return nil, err
	}
	var p plan.Plan
	if err := rec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PlanAt returns one stored plan version.
func (v *Versioner) PlanAt(ctx context.Context, requestID string, version int) (*plan.Plan, error) {
	rec, err := v.store.Get(ctx, requestID, artifact.KindPlan, version)
	if err != nil {
		return nil, err
	}
	var p plan.Plan
	if err := rec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns every stored plan version in ascending order.
func (v *Versioner) ListPlans(ctx context.Context, requestID string) ([]plan.Plan, error) {
	recs, err := v.store.Versions(ctx, requestID, artifact.KindPlan)
	if err != nil {
		return nil, err
	}
	out := make([]plan.Plan, 0, len(recs))
	for i := range recs {
		var p plan.Plan
		if err := recs[i].Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CurrentCritique returns the latest critique version for the request.
func (v *Versioner) CurrentCritique(ctx context.Context, requestID string) (*critique.Critique, error) {
	rec, err := v.store.Current(ctx, requestID, artifact.KindCritique)
	if err != nil {
		return nil, err
	}
	var c critique.Critique
	if err := rec.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CritiqueAt returns one stored critique version.
func (v *Versioner) CritiqueAt(ctx context.Context, requestID string, version int) (*critique.Critique, error) {
	rec, err := v.store.Get(ctx, requestID, artifact.KindCritique, version)
	if err != nil {
		return nil, err
	}
	var c critique.Critique
	if err := rec.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCritiques returns every stored critique version in ascending order.
func (v *Versioner) ListCritiques(ctx context.Context, requestID string) ([]critique.Critique, error) {
	recs, err := v.store.Versions(ctx, requestID, artifact.KindCritique)
	if err != nil {
		return nil, err
	}
	out := make([]critique.Critique, 0, len(recs))
	for i := range recs {
		var c critique.Critique
		if err := recs[i].Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
