// Package notifier delivers account emails (verification, password reset)
// through Kafka events, Postmark, or the log.
package notifier

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidConfig is returned by constructors given incomplete settings.
var ErrInvalidConfig = errors.New("notifier: invalid config")

// Notifier sends account lifecycle emails. Callers treat every error as
// non-fatal.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, token, displayName string) error
	SendPasswordResetEmail(ctx context.Context, email, token, displayName string) error
}

// Links builds the frontend URLs embedded in emails.
type Links struct {
	FrontendURL string
}

// VerifyEmail returns the link that completes email verification.
func (l Links) VerifyEmail(token string) string {
	return l.build("/auth/verify-email", token)
}

// ResetPassword returns the link to the password reset form.
func (l Links) ResetPassword(token string) string {
	return l.build("/auth/reset-password", token)
}

func (l Links) build(path, token string) string {
	return strings.TrimRight(l.FrontendURL, "/") + path + "?" + url.Values{"token": {token}}.Encode()
}

// greeting is the name used in the salutation.
func greeting(displayName string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	return "there"
}
