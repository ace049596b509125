package model

import (
	"time"
)

// Outcome is the terminal state of one subscription within a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// RunResult summarizes one pass of the discovery worker over all eligible
// subscriptions.
type RunResult struct {
	RunID        string        `json:"run_id"`
	Pages        int           `json:"pages"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	LeadsCreated int           `json:"leads_created"`
	WebhooksSent int           `json:"webhooks_sent"`
	DigestsSent  int           `json:"digests_sent"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Record tallies the outcome of a single subscription.
func (r *RunResult) Record(o Outcome) {
	r.Processed++
	switch o {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}
