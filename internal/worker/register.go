package worker

import (
	"log/slog"

	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-appraise/internal/activity"
	"github.com/ahrav/go-appraise/internal/backend"
	"github.com/ahrav/go-appraise/internal/workflow"
	"github.com/ahrav/go-appraise/pkg/events"
)

// RegisterAll registers the analysis workflow and its activities with the
// Temporal worker. Must be called once during worker initialization before
// the worker starts; registration is not thread-safe.
func RegisterAll(w sdkworker.Worker, client backend.Client, sink events.EventSink, logger *slog.Logger) {
	activities := activity.NewActivities(client, sink, logger)

	w.RegisterWorkflow(workflow.AnalysisWorkflow)

	w.RegisterActivity(activities.ChunkDocument)
	w.RegisterActivity(activities.EvaluateMetric)
	w.RegisterActivity(activities.DegradeMetric)
	w.RegisterActivity(activities.AggregateDocument)
}
