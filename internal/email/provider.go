// Package email sends lead digest emails through a pluggable provider.
package email

import (
	"context"

	"go.uber.org/zap"
)

// Provider delivers one HTML email.
type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogProvider writes emails to the log instead of sending them. It is the
// default provider for local runs.
type LogProvider struct{}

// Send logs the email.
func (LogProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	zap.L().Info("email: log provider",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("html_bytes", len(htmlBody)),
	)
	return nil
}
