package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cloudreap/cloudreap/runner"
	"github.com/cloudreap/cloudreap/types"
)

// Metrics holds the daemon's operational metrics.
type Metrics struct {
	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	listed       metric.Int64Gauge
	deletions    metric.Int64Counter
	skippedTicks metric.Int64Counter
}

// NewMetrics registers the daemon metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("cloudreap.daemon")

	runs, err := meter.Int64Counter(
		"cloudreap.runs",
		metric.WithDescription("Number of cleanup runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"cloudreap.run.duration",
		metric.WithDescription("Duration of cleanup runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	listed, err := meter.Int64Gauge(
		"cloudreap.resources.listed",
		metric.WithDescription("Number of resources listed in the last run"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	deletions, err := meter.Int64Counter(
		"cloudreap.deletions",
		metric.WithDescription("Number of deletion attempts by outcome"),
		metric.WithUnit("{deletion}"),
	)
	if err != nil {
		return nil, err
	}

	skippedTicks, err := meter.Int64Counter(
		"cloudreap.ticks.skipped",
		metric.WithDescription("Scheduler ticks skipped because a run was still active"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:         runs,
		runDuration:  runDuration,
		listed:       listed,
		deletions:    deletions,
		skippedTicks: skippedTicks,
	}, nil
}

// RecordRun records the outcome of one cleanup cycle.
func (m *Metrics) RecordRun(ctx context.Context, report *runner.RunReport) {
	status := "ok"
	if report.Incomplete {
		status = "incomplete"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.runDuration.Record(ctx, report.Duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	m.listed.Record(ctx, int64(report.ResourcesListed))
}

// RecordDeletion records one deletion attempt.
func (m *Metrics) RecordDeletion(ctx context.Context, rtype types.ResourceType, outcome types.Outcome) {
	m.deletions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("resource.type", string(rtype)),
			attribute.String("outcome", string(outcome)),
		),
	)
}

// RecordSkippedTick records a scheduler tick skipped due to an active run.
func (m *Metrics) RecordSkippedTick(ctx context.Context) {
	m.skippedTicks.Add(ctx, 1)
}
