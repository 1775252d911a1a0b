package worker

import (
	"context"
	"log/slog"

	audit "rpgateway/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A failed
// append is logged and skipped so one bad write does not stall the queue.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run processes events until the inbox is closed. Persisting uses ctx, so
// callers that want a full drain on shutdown should pass a context that
// outlives the inbox.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		if err := w.store.Append(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "failed to persist audit event",
				"action", event.Action,
				"request_id", event.RequestID,
				"error", err,
			)
		}
	}
}
