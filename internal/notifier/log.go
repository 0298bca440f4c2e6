package notifier

import (
	"context"

	"github.com/italolelis/artifactd/internal/logctx"
)

// LogNotifier writes messages to the context logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger := logctx.LoggerFromContext(ctx)

	attrs := []any{"kind", msg.Kind, "title", msg.Title, "body", msg.Body, "percent", msg.ProgressPercent}

	switch msg.Kind {
	case KindFailed:
		logger.ErrorContext(ctx, "notification", attrs...)
	case KindProgress:
		logger.DebugContext(ctx, "notification", attrs...)
	default:
		logger.InfoContext(ctx, "notification", attrs...)
	}

	return nil
}
