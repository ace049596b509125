package model

import (
	"time"
)

// LeadType tags how a lead was discovered.
type LeadType string

const (
	LeadTypeDirect            LeadType = "DIRECT_LEAD"
	LeadTypeCompetitorMention LeadType = "COMPETITOR_MENTION"
)

// PersistedLead is the durable record of an enriched signal. URL is globally unique.
type PersistedLead struct {
	ID               string    `json:"id" db:"id"`
	SubscriptionID   string    `json:"subscription_id" db:"subscription_id"`
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	Type             LeadType  `json:"type" db:"type"`
	ExternalID       string    `json:"external_id" db:"external_id"`
	Title            string    `json:"title" db:"title"`
	Body             string    `json:"body,omitempty" db:"body"`
	Author           string    `json:"author" db:"author"`
	Subreddit        string    `json:"subreddit" db:"subreddit"`
	URL              string    `json:"url" db:"url"`
	PostedAt         time.Time `json:"posted_at" db:"posted_at"`
	OpportunityScore int       `json:"opportunity_score" db:"opportunity_score"`
	Intent           string    `json:"intent" db:"intent"`
	Sentiment        string    `json:"sentiment,omitempty" db:"sentiment"`
	NumComments      int       `json:"num_comments" db:"num_comments"`
	UpvoteRatio      float64   `json:"upvote_ratio" db:"upvote_ratio"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// NewPersistedLead builds the create payload for an enriched signal.
func NewPersistedLead(sig EnrichedSignal, subscriptionID, ownerID string, leadType LeadType) PersistedLead {
	return PersistedLead{
		SubscriptionID:   subscriptionID,
		OwnerID:          ownerID,
		Type:             leadType,
		ExternalID:       sig.ExternalID,
		Title:            sig.Title,
		Body:             sig.Body,
		Author:           sig.Author,
		Subreddit:        sig.Subreddit,
		URL:              sig.URL,
		PostedAt:         sig.PostedAt(),
		OpportunityScore: sig.OpportunityScore,
		Intent:           sig.Intent,
		Sentiment:        sig.Sentiment,
		NumComments:      sig.NumComments,
		UpvoteRatio:      sig.UpvoteRatio,
	}
}

// Priority is the notification urgency derived from an opportunity score.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityFromScore maps an opportunity score to a notification priority.
func PriorityFromScore(score int) Priority {
	switch {
	case score >= 90:
		return PriorityUrgent
	case score >= 80:
		return PriorityHigh
	case score >= 70:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
