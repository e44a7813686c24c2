package audit

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Publisher enqueues audit events for asynchronous delivery. A nil
// Publisher is a no-op, so callers can emit unconditionally.
type Publisher struct {
	client *asynq.Client
	logger *slog.Logger
	queue  string
}

// NewPublisher wraps an asynq client. queue may be empty for the default
// queue.
func NewPublisher(client *asynq.Client, logger *slog.Logger, queue string) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger, queue: queue}
}

// Emit enqueues the event. Failures are logged and swallowed: audit
// delivery must never block or fail the operation being audited.
func (p *Publisher) Emit(ctx context.Context, ev Event) {
	if p == nil || p.client == nil {
		return
	}
	task, err := NewTask(ev)
	if err != nil {
		p.logger.Error("audit encode", slog.Any("error", err))
		return
	}
	opts := []asynq.Option{asynq.MaxRetry(5)}
	if p.queue != "" {
		opts = append(opts, asynq.Queue(p.queue))
	}
	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		p.logger.Warn("audit enqueue",
			slog.String("action", ev.Action),
			slog.String("entity", ev.Entity),
			slog.Any("error", err))
	}
}
