// Package notify is the notification collaborator boundary. The engine and
// sweeps call it for warnings and escalations; a failed notification never
// rolls back the state change that triggered it.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Kind classifies a notification for the delivery layer.
type Kind string

const (
	KindWarning    Kind = "warning"
	KindEscalation Kind = "escalation"
	KindReviewDue  Kind = "review_due"
)

// Notifier delivers a message to a user. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, userID, message string, kind Kind) error
}

// Logger is a Notifier that records notifications in the service log. It
// stands in until a real delivery channel (email, in-app) is wired up.
type Logger struct {
	log *zap.Logger
}

// NewLogger returns a log-backed Notifier.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log}
}

func (l *Logger) Notify(_ context.Context, userID, message string, kind Kind) error {
	l.log.Info("notification",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("message", message))
	return nil
}

// Func adapts a function to the Notifier interface, used by tests.
type Func func(ctx context.Context, userID, message string, kind Kind) error

func (f Func) Notify(ctx context.Context, userID, message string, kind Kind) error {
	return f(ctx, userID, message, kind)
}
