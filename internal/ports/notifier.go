package ports

import "context"

// NotifyLevel classifies a notification for channel routing.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// Notifier delivers operator notifications. Implementations are
// fire-and-forget: delivery failures are logged, never returned, and must not
// block or propagate into trading logic.
type Notifier interface {
	Notify(ctx context.Context, message string, level NotifyLevel)
}
