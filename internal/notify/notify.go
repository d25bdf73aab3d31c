// Package notify delivers outbound notifications for invitation and
// verification flows. The default implementation logs instead of
// sending; a real mail transport plugs in behind the same interface.
package notify

import (
	"context"
	"log/slog"

	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
)

// Template identifiers for outbound notifications.
const (
	TemplateInvitation        = "invitation"
	TemplateInvitationRevoked = "invitation_revoked"
	TemplateEmailVerification = "email_verification"
)

// Message is one outbound notification.
type Message struct {
	Template  string
	Recipient string

	// Data carries template fields (trip title, invite URL, etc).
	Data map[string]string
}

// Notifier delivers notifications. Delivery failures must not block the
// operation that triggered them; callers log and continue.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the log instead of delivering
// them. Used in dev mode and as the default until SMTP is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs deliveries.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logutil.NoopIfNil(logger)}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	attrs := []any{
		"template", msg.Template,
		"recipient", msg.Recipient,
	}
	for k, v := range msg.Data {
		attrs = append(attrs, k, v)
	}
	n.logger.Info("notification", attrs...)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
