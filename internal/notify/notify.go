// Package notify delivers "conversation is waiting" requests to operators.
// Delivery is fire-and-forget; deciding when to notify is the caller's job.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// EventType names the notification on the wire.
const EventType = "conversations.waiting.v1"

// WaitingNotice asks for an operator to be notified that a conversation is
// waiting for a response.
type WaitingNotice struct {
	TenantID       string    `json:"tenant_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	DisplayName    string    `json:"display_name"`
	At             time.Time `json:"at"`
}

// Notifier sends waiting notices.
type Notifier interface {
	NotifyWaiting(ctx context.Context, n WaitingNotice) error
}

// LogNotifier writes notices to a logger. It is the fallback when no broker
// is configured.
type LogNotifier struct {
	Log *slog.Logger
}

// NotifyWaiting logs the notice at info level.
func (l LogNotifier) NotifyWaiting(_ context.Context, n WaitingNotice) error {
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("conversation waiting", "conversation", n.ConversationID, "display_name", n.DisplayName)
	return nil
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n WaitingNotice) error

// NotifyWaiting calls f.
func (f Func) NotifyWaiting(ctx context.Context, n WaitingNotice) error {
	return f(ctx, n)
}
