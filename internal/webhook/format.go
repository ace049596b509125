package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/leadwatch/internal/model"
)

// LeadData is the lead snapshot carried by a lead.discovered event.
type LeadData struct {
	ID               string         `json:"id"`
	Type             model.LeadType `json:"type"`
	Title            string         `json:"title"`
	Body             string         `json:"body,omitempty"`
	Subreddit        string         `json:"subreddit"`
	Author           string         `json:"author"`
	URL              string         `json:"url"`
	OpportunityScore int            `json:"opportunity_score"`
	Intent           string         `json:"intent"`
	Sentiment        string         `json:"sentiment,omitempty"`
	NumComments      int            `json:"num_comments"`
	UpvoteRatio      float64        `json:"upvote_ratio"`
	PostedAt         int64          `json:"posted_at"`
}

// Event is the generic webhook payload.
type Event struct {
	Event          string            `json:"event"`
	Data           LeadData          `json:"data"`
	Timestamp      int64             `json:"timestamp"`
	OwnerID        string            `json:"user_id"`
	SubscriptionID string            `json:"campaign_id"`
	Priority       model.Priority    `json:"priority"`
	Metadata       map[string]string `json:"metadata"`
}

// NewEvent builds the event for a lead at the given time.
func NewEvent(name string, lead *model.PersistedLead, priority model.Priority, at time.Time) Event {
	return Event{
		Event: name,
		Data: LeadData{
			ID:               lead.ID,
			Type:             lead.Type,
			Title:            lead.Title,
			Body:             lead.Body,
			Subreddit:        lead.Subreddit,
			Author:           lead.Author,
			URL:              lead.URL,
			OpportunityScore: lead.OpportunityScore,
			Intent:           lead.Intent,
			Sentiment:        lead.Sentiment,
			NumComments:      lead.NumComments,
			UpvoteRatio:      lead.UpvoteRatio,
			PostedAt:         lead.PostedAt.Unix(),
		},
		Timestamp:      at.UnixMilli(),
		OwnerID:        lead.OwnerID,
		SubscriptionID: lead.SubscriptionID,
		Priority:       priority,
		Metadata:       map[string]string{"source": "leadwatch", "version": "1.0"},
	}
}

var discordColors = map[model.Priority]int{
	model.PriorityUrgent: 0xff0000,
	model.PriorityHigh:   0xff6600,
	model.PriorityMedium: 0x0099ff,
	model.PriorityLow:    0x888888,
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
	Footer      discordFooter  `json:"footer"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type slackPayload struct {
	Username    string            `json:"username"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color string `json:"color"`
	TS    int64  `json:"ts"`
}

func headline(p model.Priority) string {
	if p == model.PriorityUrgent {
		return "URGENT Lead Discovered!"
	}
	return "New Lead Discovered!"
}

func humanIntent(intent string) string {
	if intent == "" {
		return "unknown"
	}
	return strings.ReplaceAll(intent, "_", " ")
}

func formatDiscord(ev Event, appURL string) discordPayload {
	d := ev.Data
	desc := fmt.Sprintf("**%s**\n\nOpportunity Score: %d%%\nIntent: %s\nAuthor: u/%s\nSubreddit: r/%s\nComments: %d\nUpvote Ratio: %d%%",
		d.Title, d.OpportunityScore, humanIntent(d.Intent), d.Author, d.Subreddit, d.NumComments, int(d.UpvoteRatio*100+0.5))

	fields := []discordField{
		{Name: "Posted", Value: fmt.Sprintf("<t:%d:R>", d.PostedAt), Inline: true},
		{Name: "Actions", Value: fmt.Sprintf("[View Post](%s) | [Dashboard](%s/dashboard)", d.URL, appURL), Inline: true},
	}
	return discordPayload{
		Username: "LeadWatch",
		Embeds: []discordEmbed{{
			Title:       headline(ev.Priority),
			Description: desc,
			URL:         d.URL,
			Color:       discordColors[ev.Priority],
			Fields:      fields,
			Timestamp:   time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339),
			Footer:      discordFooter{Text: "LeadWatch • Priority: " + strings.ToUpper(string(ev.Priority))},
		}},
	}
}

func formatSlack(ev Event) slackPayload {
	d := ev.Data
	color := "#00ff00"
	if ev.Priority == model.PriorityUrgent {
		color = "#ff0000"
	}
	text := fmt.Sprintf("*%s*\n\n*%s*\n\nOpportunity Score: %d%%\nIntent: %s\nAuthor: u/%s\nSubreddit: r/%s\n<%s|View post>",
		headline(ev.Priority), d.Title, d.OpportunityScore, humanIntent(d.Intent), d.Author, d.Subreddit, d.URL)
	return slackPayload{
		Username:    "LeadWatch",
		Text:        text,
		Attachments: []slackAttachment{{Color: color, TS: ev.Timestamp / 1000}},
	}
}

// Format renders ev in the shape the endpoint type expects.
func Format(t model.WebhookType, ev Event, appURL string) any {
	switch t {
	case model.WebhookDiscord:
		return formatDiscord(ev, appURL)
	case model.WebhookSlack:
		return formatSlack(ev)
	default:
		return ev
	}
}
