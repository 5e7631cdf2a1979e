package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chainwright"

// Metrics holds all Chainwright metric instruments.
type Metrics struct {
	RequestsTotal  metric.Int64Counter
	StageDuration  metric.Float64Histogram
	ReplansTotal   metric.Int64Counter
	DecisionsTotal metric.Int64Counter
	ArtifactWrites metric.Int64Counter
	ReasoningCalls metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsTotal, err = meter.Int64Counter("pipeline.requests.total",
		metric.WithDescription("Number of requests submitted to the pipeline"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Agent stage duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.ReplansTotal, err = meter.Int64Counter("pipeline.replans.total",
		metric.WithDescription("Number of replan rounds run"))
	if err != nil {
		return nil, err
	}

	m.DecisionsTotal, err = meter.Int64Counter("pipeline.decisions.total",
		metric.WithDescription("Number of confidence routing decisions"))
	if err != nil {
		return nil, err
	}

	m.ArtifactWrites, err = meter.Int64Counter("artifactstore.writes.total",
		metric.WithDescription("Number of artifact store appends"))
	if err != nil {
		return nil, err
	}

	m.ReasoningCalls, err = meter.Int64Counter("reasoning.calls.total",
		metric.WithDescription("Number of reasoning backend completions"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
