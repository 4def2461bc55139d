package notifier

import (
	"context"
	"log/slog"
)

// Log writes email requests to the logger instead of delivering them. Links
// are logged at debug level only.
type Log struct {
	logger *slog.Logger
	links  Links
}

var _ Notifier = (*Log)(nil)

// NewLog creates the logging backend.
func NewLog(logger *slog.Logger, links Links) *Log {
	return &Log{logger: logger, links: links}
}

// SendVerificationEmail logs the verification link.
func (l *Log) SendVerificationEmail(ctx context.Context, email, token, displayName string) error {
	l.logger.InfoContext(ctx, "verification email suppressed",
		slog.String("to", email),
		slog.String("name", greeting(displayName)),
	)
	l.logger.DebugContext(ctx, "verification link", slog.String("link", l.links.VerifyEmail(token)))
	return nil
}

// SendPasswordResetEmail logs the reset link.
func (l *Log) SendPasswordResetEmail(ctx context.Context, email, token, displayName string) error {
	l.logger.InfoContext(ctx, "password reset email suppressed",
		slog.String("to", email),
		slog.String("name", greeting(displayName)),
	)
	l.logger.DebugContext(ctx, "password reset link", slog.String("link", l.links.ResetPassword(token)))
	return nil
}
