package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nimbus-iam/nimbus-iam/internal/audit"
)

// AuditSink persists one audit event.
type AuditSink interface {
	Write(ctx context.Context, ev audit.Event) error
}

// NewAuditWriteHandler returns the asynq handler that drains the audit
// queue into the sink. Write errors are returned so asynq retries the
// task.
func NewAuditWriteHandler(sink AuditSink, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, task *asynq.Task) error {
		ev, err := audit.DecodeTask(task.Payload())
		if err != nil {
			// A payload that cannot decode will never succeed; drop it.
			logger.Error("audit task decode", slog.Any("error", err))
			return nil
		}
		if err := sink.Write(ctx, ev); err != nil {
			logger.Warn("audit write",
				slog.String("event_id", ev.ID.String()),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}
