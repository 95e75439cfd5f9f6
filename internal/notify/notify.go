package notify

import (
	"context"
	"log/slog"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is a user-facing message about a session or execution event.
// Failures surface exactly one notification per distinct failure, never one
// per retry or per autosave tick.
type Notification struct {
	Level       string `json:"level"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// Notifier receives notifications. Implementations must not block; slow
// consumers should buffer or drop.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to a structured logger. Used as the
// default when no editing surface is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("code", n.Code),
		slog.String("workflow_id", n.WorkflowID),
	}
	if n.ExecutionID != "" {
		attrs = append(attrs, slog.String("execution_id", n.ExecutionID))
	}
	switch n.Level {
	case LevelError:
		logger.ErrorContext(ctx, n.Message, attrs...)
	case LevelWarning:
		logger.WarnContext(ctx, n.Message, attrs...)
	default:
		logger.InfoContext(ctx, n.Message, attrs...)
	}
}
