package notifiers

import "context"

// Notifier delivers a rendered announcement to one destination (Mastodon,
// Discord, SNS, etc). Implementations do not retry.
type Notifier interface {
	ID() string
	Type() string
	Send(ctx context.Context, message string) error
}
