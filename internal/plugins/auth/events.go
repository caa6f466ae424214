package auth

import (
	"context"
	"time"
)

// Actions published by the auth service. Each follows "resource.verb".
const (
	ActionLoginFailed            = "auth.login_failed"
	ActionLoginThrottled         = "auth.login_throttled"
	ActionCodeIssued             = "auth.code_issued"
	ActionCodeResent             = "auth.code_resent"
	ActionCodeFailed             = "auth.code_failed"
	ActionLoginSucceeded         = "auth.login"
	ActionLogout                 = "auth.logout"
	ActionPasswordResetRequested = "password.reset_requested"
	ActionPasswordReset          = "password.reset"
)

// Event is a security-relevant occurrence in the auth flow. Never carries
// passwords, codes or tokens.
type Event struct {
	Action    string
	UserID    string
	Email     string
	IP        string
	UserAgent string
	Details   map[string]any
	At        time.Time
}

// EventPublisher receives auth events. Implementations handle their own
// failures; publishing never fails the auth operation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event Event)

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

// nopPublisher discards events.
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
