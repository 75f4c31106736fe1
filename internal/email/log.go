package email

import (
	"context"
	"log/slog"
	"time"
)

// LogNotifier writes reset codes to the log instead of mailing them. It
// stands in for Client when no Postmark token is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "email")}
}

func (n *LogNotifier) SendOTP(ctx context.Context, toEmail, code string, ttl time.Duration) error {
	n.logger.WarnContext(ctx, "postmark not configured, logging reset code",
		"to", toEmail, "code", code, "ttl", ttl)
	return nil
}
