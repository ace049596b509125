package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/resilience"
)

const defaultBrevoURL = "https://api.brevo.com/v3/smtp/email"

// BrevoProvider sends emails through the Brevo transactional API.
type BrevoProvider struct {
	apiKey   string
	fromAddr string
	fromName string
	endpoint string
	http     *http.Client
	attempts uint
	delay    time.Duration
}

// BrevoOption configures a BrevoProvider.
type BrevoOption func(*BrevoProvider)

// WithEndpoint overrides the Brevo send URL.
func WithEndpoint(url string) BrevoOption {
	return func(b *BrevoProvider) { b.endpoint = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) BrevoOption {
	return func(b *BrevoProvider) { b.http = c }
}

// WithRetry sets the attempt count and base delay between attempts.
func WithRetry(attempts uint, delay time.Duration) BrevoOption {
	return func(b *BrevoProvider) {
		b.attempts = attempts
		b.delay = delay
	}
}

// NewBrevoProvider creates a Brevo provider.
func NewBrevoProvider(apiKey, fromAddr, fromName string, opts ...BrevoOption) *BrevoProvider {
	b := &BrevoProvider{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		endpoint: defaultBrevoURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		attempts: 3,
		delay:    time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
}

// Send posts the email to Brevo. Transient statuses and transport errors
// are retried; other statuses fail immediately.
func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: to}},
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return eris.Wrap(err, "email: marshal brevo request")
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(eris.Wrap(err, "email: create request"))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("api-key", b.apiKey)

			start := time.Now()
			resp, err := b.http.Do(req)
			if err != nil {
				return eris.Wrap(err, "email: brevo request")
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body) //nolint:errcheck

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				err := resilience.StatusError("brevo", resp.StatusCode)
				if !resilience.IsTransient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			zap.L().Debug("email: brevo accepted",
				zap.String("to", to),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return nil
		},
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(b.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			zap.L().Info("email: retrying brevo send", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
}
