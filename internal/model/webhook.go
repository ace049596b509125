package model

import (
	"slices"
	"strings"
	"time"
)

// EventLeadDiscovered is emitted for every newly created high-quality lead.
const EventLeadDiscovered = "lead.discovered"

// WebhookType selects the payload shape sent to an endpoint.
type WebhookType string

const (
	WebhookGeneric WebhookType = "generic"
	WebhookSlack   WebhookType = "slack"
	WebhookDiscord WebhookType = "discord"
)

// WebhookFilters narrows which events an endpoint receives.
type WebhookFilters struct {
	MinOpportunityScore int        `json:"min_opportunity_score,omitempty"`
	Subreddits          []string   `json:"subreddits,omitempty"`
	Keywords            []string   `json:"keywords,omitempty"`
	Priorities          []Priority `json:"priorities,omitempty"`
}

// WebhookEndpoint is an owner-registered delivery target.
type WebhookEndpoint struct {
	ID               string         `json:"id" db:"id"`
	OwnerID          string         `json:"owner_id" db:"owner_id"`
	Name             string         `json:"name" db:"name"`
	URL              string         `json:"url" db:"url"`
	Type             WebhookType    `json:"type" db:"type"`
	IsActive         bool           `json:"is_active" db:"is_active"`
	Events           []string       `json:"events" db:"events"`
	Filters          WebhookFilters `json:"filters" db:"filters"`
	RateLimitMinutes int            `json:"rate_limit_minutes,omitempty" db:"rate_limit_minutes"`
	LastTriggeredAt  *time.Time     `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
}

// Accepts reports whether the endpoint wants a lead event with the given
// attributes. Rate limiting is evaluated separately by the sender.
func (w WebhookEndpoint) Accepts(event string, lead PersistedLead, priority Priority) bool {
	if !w.IsActive || !slices.Contains(w.Events, event) {
		return false
	}
	f := w.Filters
	if f.MinOpportunityScore > 0 && lead.OpportunityScore < f.MinOpportunityScore {
		return false
	}
	if len(f.Subreddits) > 0 && !slices.ContainsFunc(f.Subreddits, func(s string) bool {
		return strings.EqualFold(s, lead.Subreddit)
	}) {
		return false
	}
	if len(f.Keywords) > 0 {
		text := strings.ToLower(lead.Title + " " + lead.Body)
		if !slices.ContainsFunc(f.Keywords, func(k string) bool {
			return strings.Contains(text, strings.ToLower(k))
		}) {
			return false
		}
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, priority) {
		return false
	}
	return true
}

// RateLimited reports whether the endpoint fired too recently to fire again at now.
func (w WebhookEndpoint) RateLimited(now time.Time) bool {
	if w.RateLimitMinutes <= 0 || w.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*w.LastTriggeredAt) < time.Duration(w.RateLimitMinutes)*time.Minute
}
