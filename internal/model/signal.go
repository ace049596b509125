package model

import (
	"time"
)

// Sentiment labels returned by the sentiment collaborator.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Intent classifications attached during enrichment.
const (
	IntentCompetitorMention = "competitor_mention"
	IntentGeneralDiscussion = "general_discussion"
)

// RawSignal is a candidate piece of content returned by the content source.
// It lives only in memory for the duration of one pipeline run.
type RawSignal struct {
	ExternalID  string  `json:"external_id"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	URL         string  `json:"url"`
	CreatedUTC  int64   `json:"created_utc"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
}

// PostedAt converts the origin timestamp to a time.Time.
func (s RawSignal) PostedAt() time.Time {
	return time.Unix(s.CreatedUTC, 0).UTC()
}

// EnrichedSignal is a RawSignal with sentiment, opportunity score and intent.
type EnrichedSignal struct {
	RawSignal

	Sentiment        string   `json:"sentiment"`
	SentimentScore   float64  `json:"sentiment_score"`
	OpportunityScore int      `json:"opportunity_score"`
	Intent           string   `json:"intent"`
	LeadType         LeadType `json:"lead_type"`
}
