package domain

import "context"

// Channel connects a host platform (Slack, Telegram, Discord, Webhook) to
// the event handler. Start blocks until ctx is done.
type Channel interface {
	Name() string
	Start(ctx context.Context, handler EventHandler) error
}
