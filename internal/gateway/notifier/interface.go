package notifier

import "context"

// TextNotifier sends one rendered message. Implementations must honour ctx.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
