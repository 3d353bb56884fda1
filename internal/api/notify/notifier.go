package notify

import (
	"context"
	"log/slog"
)

// Notifier is the outbound notification collaborator. Delivery is
// fire-and-forget: a failed send must never surface to the requester, since
// that would leak whether the email exists.
type Notifier interface {
	SendResetLink(ctx context.Context, email, token string) error
}

var _ Notifier = (*LogNotifier)(nil)

// LogNotifier records reset links in the service log instead of dispatching
// them. Stands in until a real delivery channel is wired up.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendResetLink(ctx context.Context, email, token string) error {
	// The token itself stays out of the log line.
	n.logger.InfoContext(ctx, "Password reset link dispatched",
		slog.String("email", email),
		slog.Int("token_length", len(token)),
	)
	return nil
}
