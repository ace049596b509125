package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/resilience"
	"github.com/sells-group/leadwatch/internal/usage"
)

// Config tunes a Worker.
type Config struct {
	PageSize             int
	MaxAttempts          int
	BackoffBase          time.Duration
	QualityThreshold     int
	EnrichConcurrency    int
	GlobalSearchInterval time.Duration
}

// Deps are the collaborators a Worker drives. Webhooks and Digests may be nil.
type Deps struct {
	Store      Store
	Source     Source
	Gate       Gate
	Classifier Classifier
	Webhooks   Broadcaster
	Digests    DigestSender
}

// Worker processes every eligible subscription once per Run.
type Worker struct {
	cfg        Config
	store      Store
	source     Source
	gate       Gate
	enricher   *Enricher
	persister  *Persister
	dispatcher *Dispatcher
	now        func() time.Time
	sleep      resilience.SleepFunc
}

// NewWorker creates a Worker.
func NewWorker(cfg Config, deps Deps) *Worker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.GlobalSearchInterval <= 0 {
		cfg.GlobalSearchInterval = 30 * time.Hour
	}
	return &Worker{
		cfg:        cfg,
		store:      deps.Store,
		source:     deps.Source,
		gate:       deps.Gate,
		enricher:   NewEnricher(deps.Classifier, cfg.EnrichConcurrency),
		persister:  NewPersister(deps.Store),
		dispatcher: NewDispatcher(deps.Webhooks, deps.Digests, cfg.QualityThreshold),
		now:        time.Now,
	}
}

// SubscriptionStats counts what processing one subscription produced.
type SubscriptionStats struct {
	LeadsCreated int
	WebhooksSent int
	DigestsSent  int
}

// Run makes one pass over all eligible subscriptions. Subscription failures
// are isolated and counted; only a failure to list subscriptions is returned.
// The result is saved even when the pass stops early.
func (w *Worker) Run(ctx context.Context) (*model.RunResult, error) {
	res := &model.RunResult{RunID: uuid.NewString(), StartedAt: w.now().UTC()}
	log := zap.L().With(zap.String("run_id", res.RunID))
	log.Info("discovery: run started")

	runErr := w.runPages(ctx, res)

	res.Duration = w.now().Sub(res.StartedAt)
	if err := w.store.SaveRun(context.WithoutCancel(ctx), res); err != nil {
		log.Warn("discovery: save run failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int("pages", res.Pages),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("leads_created", res.LeadsCreated),
		zap.Int("webhooks_sent", res.WebhooksSent),
		zap.Int("digests_sent", res.DigestsSent),
		zap.Duration("duration", res.Duration),
	}
	if runErr != nil {
		log.Error("discovery: run aborted", append(fields, zap.Error(runErr))...)
		return res, runErr
	}
	log.Info("discovery: run complete", fields...)
	return res, nil
}

func (w *Worker) runPages(ctx context.Context, res *model.RunResult) error {
	it := NewIterator(w.store, w.cfg.PageSize, "")
	for {
		page, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if page == nil {
			return nil
		}
		res.Pages++
		for _, sub := range page {
			stats, outcome := w.processWithRetry(ctx, sub)
			res.Record(outcome)
			res.LeadsCreated += stats.LeadsCreated
			res.WebhooksSent += stats.WebhooksSent
			res.DigestsSent += stats.DigestsSent
		}
	}
}

// processWithRetry runs one subscription under the retry policy and maps the
// final error to an outcome.
func (w *Worker) processWithRetry(ctx context.Context, sub model.Subscription) (SubscriptionStats, model.Outcome) {
	log := zap.L().With(zap.String("subscription_id", sub.ID), zap.String("owner_id", sub.OwnerID))

	policy := resilience.SubscriptionPolicy(w.cfg.MaxAttempts, w.cfg.BackoffBase)
	policy.ShouldRetry = func(err error) bool { return !errors.Is(err, ErrSkipped) }
	policy.OnRetry = func(attempt int, err error) {
		log.Warn("discovery: subscription attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", policy.Backoff(attempt)),
			zap.Error(err),
		)
	}
	if w.sleep != nil {
		policy.Sleep = w.sleep
	}

	var created []model.PersistedLead
	err := resilience.Do(ctx, policy, func(ctx context.Context) error {
		leads, err := w.discover(ctx, sub)
		created = append(created, leads...)
		return err
	})

	// Leads persisted by a failed attempt read as existing on the next one,
	// so notification covers every attempt.
	total := w.notify(ctx, created, sub)
	total.LeadsCreated = len(created)

	switch {
	case err == nil:
		log.Info("discovery: subscription processed", zap.Int("leads_created", total.LeadsCreated))
		return total, model.OutcomeSuccess
	case errors.Is(err, ErrSkipped):
		log.Info("discovery: subscription skipped", zap.String("reason", err.Error()))
		return total, model.OutcomeSkipped
	default:
		log.Error("discovery: subscription failed after retries",
			zap.Int("attempts", w.cfg.MaxAttempts),
			zap.Int("leads_created", total.LeadsCreated),
			zap.Error(err))
		return total, model.OutcomeFailed
	}
}

// ProcessSubscription runs the competitor and global search stages for one
// subscription once and notifies the owner about the leads they created,
// including leads persisted before a stage failed.
func (w *Worker) ProcessSubscription(ctx context.Context, sub model.Subscription) (SubscriptionStats, error) {
	created, err := w.discover(ctx, sub)
	stats := w.notify(ctx, created, sub)
	stats.LeadsCreated = len(created)
	return stats, err
}

// discover checks the lead quota and runs both stages. It returns the leads
// it created even when a stage fails.
func (w *Worker) discover(ctx context.Context, sub model.Subscription) ([]model.PersistedLead, error) {
	owner := sub.Owner
	if owner == nil {
		return nil, eris.Wrapf(ErrSkipped, "subscription %s has no owner", sub.ID)
	}

	ok, err := w.gate.CheckAndMaybeConsume(ctx, owner, usage.KindLeads)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: check lead quota")
	}
	if !ok {
		return nil, eris.Wrapf(ErrSkipped, "owner %s reached lead quota", owner.ID)
	}

	created, err := w.competitorStage(ctx, sub)
	if err != nil {
		return created, err
	}

	directLeads, err := w.globalStage(ctx, sub)
	return append(created, directLeads...), err
}

// notify sends webhooks and the single digest for the created leads.
func (w *Worker) notify(ctx context.Context, created []model.PersistedLead, sub model.Subscription) SubscriptionStats {
	var stats SubscriptionStats
	if len(created) == 0 {
		return stats
	}
	d := w.dispatcher.Dispatch(ctx, created, sub)
	stats.WebhooksSent = d.WebhooksSent
	if d.DigestSent {
		stats.DigestsSent = 1
	}
	return stats
}

// competitorStage searches target subreddits for competitor mentions. It runs
// for pro owners with competitor analysis quota left.
func (w *Worker) competitorStage(ctx context.Context, sub model.Subscription) ([]model.PersistedLead, error) {
	log := zap.L().With(zap.String("subscription_id", sub.ID))
	if len(sub.Competitors) == 0 {
		return nil, nil
	}
	if sub.Owner.Plan != model.PlanPro {
		log.Debug("discovery: competitor stage requires pro plan", zap.String("plan", string(sub.Owner.Plan)))
		return nil, nil
	}
	ok, err := w.gate.CheckAndMaybeConsume(ctx, sub.Owner, usage.KindCompetitor)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: check competitor quota")
	}
	if !ok {
		log.Info("discovery: competitor analysis quota reached, skipping stage")
		return nil, nil
	}

	submissions, err := w.source.SearchSubmissions(ctx, sub.Competitors, sub.TargetSubreddits)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: search submissions")
	}
	comments, err := w.source.SearchComments(ctx, sub.Competitors, sub.TargetSubreddits)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: search comments")
	}

	signals := Dedupe(append(toSignals(submissions), toSignals(comments)...))
	log.Debug("discovery: competitor signals",
		zap.Int("raw", len(submissions)+len(comments)), zap.Int("unique", len(signals)))

	enriched := w.enricher.EnrichAll(ctx, signals, sub.Owner, model.LeadTypeCompetitorMention)
	return w.persister.PersistAll(ctx, enriched, sub.ID, sub.Owner.ID, model.LeadTypeCompetitorMention), nil
}

// globalStage runs the site-wide keyword search when the previous one is
// older than the configured interval, then stamps the subscription.
func (w *Worker) globalStage(ctx context.Context, sub model.Subscription) ([]model.PersistedLead, error) {
	if len(sub.GeneratedKeywords) == 0 {
		return nil, nil
	}
	now := w.now()
	if sub.LastGlobalSearchAt != nil && now.Sub(*sub.LastGlobalSearchAt) < w.cfg.GlobalSearchInterval {
		return nil, nil
	}

	posts, err := w.source.GlobalSearch(ctx, sub.GeneratedKeywords)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: global search")
	}
	signals := FilterExcluded(Dedupe(toSignals(posts)), sub.NegativeKeywords, sub.SubredditBlacklist)

	enriched := w.enricher.EnrichAll(ctx, signals, sub.Owner, model.LeadTypeDirect)
	created := w.persister.PersistAll(ctx, enriched, sub.ID, sub.Owner.ID, model.LeadTypeDirect)

	if err := w.store.MarkGlobalSearch(ctx, sub.ID, now); err != nil {
		return created, eris.Wrap(err, "discovery: mark global search")
	}
	return created, nil
}
