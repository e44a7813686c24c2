package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nimbus-iam/nimbus-iam/internal/authz"
)

// TaskGraphExport triggers a refresh of the neo4j reporting graph.
const TaskGraphExport = "graph:export"

// GraphExporter mirrors a snapshot into the reporting store.
type GraphExporter interface {
	Export(ctx context.Context, snapshot *authz.Snapshot) error
}

// NewGraphExportTask builds the task enqueued by the scheduler.
func NewGraphExportTask() *asynq.Task {
	return asynq.NewTask(TaskGraphExport, nil)
}

// NewGraphExportHandler exports the current snapshot on every trigger.
func NewGraphExportHandler(store *authz.Store, exporter GraphExporter, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *asynq.Task) error {
		snapshot := store.Current()
		if err := exporter.Export(ctx, snapshot); err != nil {
			logger.Warn("graph export", slog.Any("error", err))
			return err
		}
		return nil
	}
}
