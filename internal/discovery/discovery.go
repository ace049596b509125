// Package discovery runs the periodic lead discovery pipeline: page through
// eligible subscriptions, fetch candidate posts, dedupe, enrich, persist
// idempotently, and notify the owner.
package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/sentiment"
	"github.com/sells-group/leadwatch/internal/usage"
	"github.com/sells-group/leadwatch/pkg/reddit"
)

// ErrSkipped marks a subscription that was deliberately not processed
// (missing owner or exhausted quota). It is never retried.
var ErrSkipped = eris.New("discovery: subscription skipped")

// Store is the persistence the worker needs.
type Store interface {
	SubscriptionPager
	LeadStore
	MarkGlobalSearch(ctx context.Context, subscriptionID string, at time.Time) error
	SaveRun(ctx context.Context, run *model.RunResult) error
}

// Source searches the content platform. reddit.Client satisfies it.
type Source interface {
	SearchSubmissions(ctx context.Context, terms, subreddits []string) ([]reddit.Post, error)
	SearchComments(ctx context.Context, terms, subreddits []string) ([]reddit.Post, error)
	GlobalSearch(ctx context.Context, keywords []string) ([]reddit.Post, error)
}

// Gate answers quota questions for an owner.
type Gate interface {
	CheckAndMaybeConsume(ctx context.Context, owner *model.Owner, kind usage.Kind) (bool, error)
}

// Classifier labels a post's sentiment and intent.
type Classifier interface {
	Sentiment(ctx context.Context, title, body string, owner *model.Owner) (sentiment.Result, error)
	Intent(ctx context.Context, title, body string, owner *model.Owner) (string, error)
}

// Broadcaster delivers lead events to the owner's webhooks.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, lead *model.PersistedLead, priority model.Priority) (int, error)
}

// DigestSender emails a lead digest.
type DigestSender interface {
	SendLeadDigest(ctx context.Context, owner *model.Owner, leads []model.PersistedLead, subscriptionName string) error
}

// toSignals converts search results into raw signals.
func toSignals(posts []reddit.Post) []model.RawSignal {
	out := make([]model.RawSignal, 0, len(posts))
	for _, p := range posts {
		out = append(out, model.RawSignal{
			ExternalID:  p.ID,
			Title:       p.Title,
			Body:        p.Body,
			Author:      p.Author,
			Subreddit:   p.Subreddit,
			URL:         p.URL(),
			CreatedUTC:  p.CreatedUTC,
			NumComments: p.NumComments,
			UpvoteRatio: p.UpvoteRatio,
		})
	}
	return out
}
