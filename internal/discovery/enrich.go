package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/scoring"
)

// Enricher attaches sentiment, intent and an opportunity score to signals.
type Enricher struct {
	classifier  Classifier
	concurrency int
	now         func() time.Time
}

// NewEnricher creates an Enricher running at most concurrency classifications
// at once.
func NewEnricher(c Classifier, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Enricher{classifier: c, concurrency: concurrency, now: time.Now}
}

// EnrichAll enriches signals concurrently. A signal whose enrichment fails is
// logged and dropped; the rest are returned in input order.
func (e *Enricher) EnrichAll(ctx context.Context, signals []model.RawSignal, owner *model.Owner, leadType model.LeadType) []model.EnrichedSignal {
	results := make([]*model.EnrichedSignal, len(signals))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, sig := range signals {
		g.Go(func() error {
			enriched, err := e.Enrich(ctx, sig, owner, leadType)
			if err != nil {
				zap.L().Warn("discovery: enrichment failed, dropping signal",
					zap.String("url", sig.URL), zap.Error(err))
				return nil
			}
			results[i] = &enriched
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.EnrichedSignal, 0, len(signals))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Enrich classifies and scores one signal.
func (e *Enricher) Enrich(ctx context.Context, sig model.RawSignal, owner *model.Owner, leadType model.LeadType) (model.EnrichedSignal, error) {
	sent, err := e.classifier.Sentiment(ctx, sig.Title, sig.Body, owner)
	if err != nil {
		return model.EnrichedSignal{}, err
	}

	intent, err := e.intent(ctx, sig, owner, leadType)
	if err != nil {
		return model.EnrichedSignal{}, err
	}

	return model.EnrichedSignal{
		RawSignal:        sig,
		Sentiment:        sent.Label,
		SentimentScore:   sent.Score,
		OpportunityScore: scoring.OpportunityScore(scoring.InputFor(sig, sent.Label, leadType), e.now()),
		Intent:           intent,
		LeadType:         leadType,
	}, nil
}

// intent tags competitor mentions directly. Direct leads are classified only
// for pro owners with an active subscription.
func (e *Enricher) intent(ctx context.Context, sig model.RawSignal, owner *model.Owner, leadType model.LeadType) (string, error) {
	if leadType == model.LeadTypeCompetitorMention {
		return model.IntentCompetitorMention, nil
	}
	if owner == nil || owner.Plan != model.PlanPro || owner.SubscriptionStatus != model.StatusActive {
		return model.IntentGeneralDiscussion, nil
	}
	return e.classifier.Intent(ctx, sig.Title, sig.Body, owner)
}
