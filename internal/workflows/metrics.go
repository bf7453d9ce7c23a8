package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/council/internal/workflows"

// Metrics for cycle runs
var (
	cycleRunCounter      metric.Int64Counter
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	cycleRunCounter, err = meter.Int64Counter(
		"council.workflows.cycle.starts",
		metric.WithDescription("Cycle runs started, by runner and result"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create cycle run counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"council.workflows.activity.duration",
		metric.WithDescription("Duration of cycle activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"council.workflows.activity.errors",
		metric.WithDescription("Number of cycle activity errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}

// observe records one activity execution. Call it deferred with a pointer
// to the named error result.
func observe(ctx context.Context, activity string, start time.Time, errp *error) {
	attrs := metric.WithAttributes(attribute.String("activity", activity))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if errp != nil && *errp != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}

func countRun(ctx context.Context, runner, result string) {
	cycleRunCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("runner", runner),
		attribute.String("result", result),
	))
}
