// Package store persists subscriptions, leads, AI usage counters, webhook
// endpoints and run summaries. PostgresStore is the production backend;
// SQLiteStore serves local runs and integration tests.
package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadwatch/internal/db"
	"github.com/sells-group/leadwatch/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the discovery pipeline.
type Store interface {
	// Subscriptions
	ListActiveSubscriptionsPage(ctx context.Context, cursor string, limit int) ([]model.Subscription, error)
	MarkGlobalSearch(ctx context.Context, subscriptionID string, at time.Time) error

	// Leads
	InsertLeadIfAbsent(ctx context.Context, lead model.PersistedLead) (*model.PersistedLead, bool, error)
	CountLeadsSince(ctx context.Context, ownerID string, since time.Time) (int, error)
	CountLeads(ctx context.Context, ownerID, subscriptionID string) (int, error)

	// AI usage
	IncrementAIUsage(ctx context.Context, ownerID, feature, period string, limit int) (bool, error)

	// Webhooks
	ListWebhooks(ctx context.Context, ownerID string) ([]model.WebhookEndpoint, error)
	TouchWebhook(ctx context.Context, webhookID string, at time.Time) error

	// Runs
	SaveRun(ctx context.Context, result *model.RunResult) error
	LastRun(ctx context.Context) (*model.RunResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var subscriptionColumns = []string{
	"s.id", "s.owner_id", "s.name", "s.is_active",
	"s.target_subreddits", "s.competitors", "s.generated_keywords",
	"s.negative_keywords", "s.subreddit_blacklist", "s.last_global_search_at",
	"o.id", "o.email", "o.name", "o.plan", "o.subscription_status",
}

// subscriptionPageQuery selects one page of active subscriptions ordered by
// id, starting after cursor. Owners are left-joined so subscriptions whose
// owner row is gone still surface and can be skipped by the worker; owners
// in an ineligible billing state are filtered out here.
func subscriptionPageQuery(cursor string, limit int, ph sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select(subscriptionColumns...).
		From("subscriptions s").
		LeftJoin("owners o ON o.id = s.owner_id").
		Where(sq.Eq{"s.is_active": true}).
		Where(sq.Or{
			sq.Eq{"o.id": nil},
			sq.Eq{"o.subscription_status": []string{
				string(model.StatusActive), string(model.StatusTrialing),
			}},
		})
	if cursor != "" {
		q = q.Where(sq.Gt{"s.id": cursor})
	}
	query, args, err := q.OrderBy("s.id ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(ph).
		ToSql()
	return query, args, eris.Wrap(err, "store: build subscription page query")
}

var leadInsert = db.InsertIgnoreConfig{
	Table: "leads",
	Columns: []string{
		"id", "subscription_id", "owner_id", "type", "external_id",
		"title", "body", "author", "subreddit", "url", "posted_at",
		"opportunity_score", "intent", "sentiment", "num_comments",
		"upvote_ratio", "created_at",
	},
	ConflictKeys: []string{"url"},
	Returning:    []string{"id"},
}

func leadValues(l *model.PersistedLead) []any {
	return []any{
		l.ID, l.SubscriptionID, l.OwnerID, string(l.Type), l.ExternalID,
		l.Title, l.Body, l.Author, l.Subreddit, l.URL, l.PostedAt,
		l.OpportunityScore, l.Intent, l.Sentiment, l.NumComments,
		l.UpvoteRatio, l.CreatedAt,
	}
}

// subscriptionLists holds the JSON-encoded list columns of a subscription row.
type subscriptionLists struct {
	targets, competitors, keywords, negatives, blacklist []byte
}

func (l *subscriptionLists) decode(sub *model.Subscription) error {
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{
		{l.targets, &sub.TargetSubreddits},
		{l.competitors, &sub.Competitors},
		{l.keywords, &sub.GeneratedKeywords},
		{l.negatives, &sub.NegativeKeywords},
		{l.blacklist, &sub.SubredditBlacklist},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return eris.Wrapf(err, "store: decode subscription %s", sub.ID)
		}
	}
	return nil
}

func decodeWebhook(w *model.WebhookEndpoint, events, filters []byte) error {
	if len(events) > 0 {
		if err := json.Unmarshal(events, &w.Events); err != nil {
			return eris.Wrapf(err, "store: decode webhook %s events", w.ID)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &w.Filters); err != nil {
			return eris.Wrapf(err, "store: decode webhook %s filters", w.ID)
		}
	}
	return nil
}

func newOwner(id, email, name, plan, status string) *model.Owner {
	return &model.Owner{
		ID:                 id,
		Email:              email,
		Name:               name,
		Plan:               model.Plan(plan),
		SubscriptionStatus: model.SubscriptionStatus(status),
	}
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
