package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the counters the chat pipeline records. A nil *Metrics is
// valid and turns every Add into a no-op, so telemetry stays optional.
type Metrics struct {
	dispatchAttempts    metric.Int64Counter
	dispatchFailures    metric.Int64Counter
	runErrors           metric.Int64Counter
	feedbackSubmissions metric.Int64Counter
}

// NewMetrics registers the counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	attempts, err := meter.Int64Counter("chat.dispatch.attempts",
		metric.WithDescription("Dispatch calls issued to the agent"))
	if err != nil {
		return nil, fmt.Errorf("create dispatch attempts counter: %w", err)
	}
	failures, err := meter.Int64Counter("chat.dispatch.failures",
		metric.WithDescription("Dispatch calls that failed to start a run"))
	if err != nil {
		return nil, fmt.Errorf("create dispatch failures counter: %w", err)
	}
	runErrors, err := meter.Int64Counter("chat.run.errors",
		metric.WithDescription("Agent runs that ended with an error"))
	if err != nil {
		return nil, fmt.Errorf("create run errors counter: %w", err)
	}
	feedback, err := meter.Int64Counter("chat.feedback.submissions",
		metric.WithDescription("Feedback records submitted by users"))
	if err != nil {
		return nil, fmt.Errorf("create feedback counter: %w", err)
	}

	return &Metrics{
		dispatchAttempts:    attempts,
		dispatchFailures:    failures,
		runErrors:           runErrors,
		feedbackSubmissions: feedback,
	}, nil
}

// AddDispatchAttempt counts one dispatch call.
func (m *Metrics) AddDispatchAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.dispatchAttempts.Add(ctx, 1)
}

// AddDispatchFailure counts one failed dispatch call.
func (m *Metrics) AddDispatchFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.dispatchFailures.Add(ctx, 1)
}

// AddRunError counts one errored agent run.
func (m *Metrics) AddRunError(ctx context.Context) {
	if m == nil {
		return
	}
	m.runErrors.Add(ctx, 1)
}

// AddFeedbackSubmission counts one feedback record.
func (m *Metrics) AddFeedbackSubmission(ctx context.Context) {
	if m == nil {
		return
	}
	m.feedbackSubmissions.Add(ctx, 1)
}
