package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/config"
	"github.com/sells-group/leadwatch/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertRunAborted     AlertType = "run_aborted"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates discovery run results against configured thresholds
// and posts alerts to an operator webhook when they are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks a finished run and returns any alerts. runErr is the
// error the run returned, if any.
func (a *Alerter) Evaluate(res *model.RunResult, runErr error) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	var runID string
	if res != nil {
		runID = res.RunID
	}

	if runErr != nil {
		alerts = append(alerts, Alert{
			Type:      AlertRunAborted,
			Severity:  "critical",
			Message:   fmt.Sprintf("Discovery run aborted: %v", runErr),
			RunID:     runID,
			Timestamp: now,
		})
	}

	if res == nil || res.Processed == 0 || res.Processed < a.cfg.MinProcessed {
		return alerts
	}

	rate := float64(res.Failed) / float64(res.Processed)
	if rate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Subscription failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d processed)",
				rate*100, a.cfg.FailureRateThreshold*100, res.Failed, res.Processed,
			),
			RunID: runID,
			Details: map[string]any{
				"failure_rate": rate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       res.Failed,
				"processed":    res.Processed,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Notify evaluates a run and sends whatever alerts it produces.
// Returns the number of alerts successfully sent.
func (a *Alerter) Notify(ctx context.Context, res *model.RunResult, runErr error) int {
	return a.SendAlerts(ctx, a.Evaluate(res, runErr))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
