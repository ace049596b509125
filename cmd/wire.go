package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/config"
	"github.com/sells-group/leadwatch/internal/db"
	"github.com/sells-group/leadwatch/internal/discovery"
	"github.com/sells-group/leadwatch/internal/email"
	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/monitoring"
	"github.com/sells-group/leadwatch/internal/sentiment"
	"github.com/sells-group/leadwatch/internal/store"
	"github.com/sells-group/leadwatch/internal/usage"
	"github.com/sells-group/leadwatch/internal/webhook"
	anthropicpkg "github.com/sells-group/leadwatch/pkg/anthropic"
	"github.com/sells-group/leadwatch/pkg/reddit"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// discoveryEnv holds the store, the worker built on top of it and the run
// health alerter.
type discoveryEnv struct {
	Store   store.Store
	Worker  *discovery.Worker
	Alerter *monitoring.Alerter
}

// Pass runs one discovery pass and alerts on an unhealthy result.
func (e *discoveryEnv) Pass(ctx context.Context) (*model.RunResult, error) {
	res, err := e.Worker.Run(ctx)
	if e.Alerter != nil {
		e.Alerter.Notify(context.WithoutCancel(ctx), res, err)
	}
	return res, err
}

// Close releases the store.
func (e *discoveryEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initDiscovery validates config, opens and migrates the store, and builds
// the worker with every collaborator. Callers should defer env.Close().
func initDiscovery(ctx context.Context, c *config.Config) (*discoveryEnv, error) {
	if err := c.Validate("run"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return &discoveryEnv{
		Store:   st,
		Worker:  newWorker(c, st),
		Alerter: monitoring.NewAlerter(c.Monitoring),
	}, nil
}

func newWorker(c *config.Config, st store.Store) *discovery.Worker {
	gate := usage.NewGate(st, usage.Limits{
		Leads:       c.Plans.LeadLimits,
		AI:          c.Plans.AILimits,
		DefaultPlan: c.Plans.Default,
	})

	var ai anthropicpkg.Client
	if c.Anthropic.Key != "" {
		ai = anthropicpkg.NewClient(c.Anthropic.Key)
	} else {
		zap.L().Info("anthropic key not set, using lexical classification only")
	}
	analyzer := sentiment.NewAnalyzer(ai, gate, c.Anthropic.Model, c.Anthropic.MaxTokens)

	source := reddit.NewClient(reddit.Credentials{
		ClientID:     c.Reddit.ClientID,
		ClientSecret: c.Reddit.ClientSecret,
		RefreshToken: c.Reddit.RefreshToken,
		UserAgent:    c.Reddit.UserAgent,
	},
		reddit.WithBaseURL(c.Reddit.BaseURL),
		reddit.WithAuthURL(c.Reddit.AuthURL),
		reddit.WithRateLimit(c.Reddit.RateLimit),
		reddit.WithWindow(c.Reddit.SearchWindow),
	)

	hooks := webhook.NewService(st, webhook.Config{
		Timeout:          time.Duration(c.Webhook.TimeoutSecs) * time.Second,
		MaxAttempts:      uint(max(c.Webhook.MaxAttempts, 0)),
		FailureThreshold: c.Webhook.FailureThreshold,
		ResetTimeout:     time.Duration(c.Webhook.ResetTimeoutSecs) * time.Second,
		AppURL:           c.Email.AppURL,
	})

	return discovery.NewWorker(discovery.Config{
		PageSize:             c.Discovery.BatchSize,
		MaxAttempts:          c.Discovery.MaxRetries,
		BackoffBase:          time.Duration(c.Discovery.BackoffBaseMs) * time.Millisecond,
		QualityThreshold:     c.Discovery.QualityThreshold,
		EnrichConcurrency:    c.Discovery.EnrichConcurrency,
		GlobalSearchInterval: time.Duration(c.Discovery.GlobalSearchIntervalHours) * time.Hour,
	}, discovery.Deps{
		Store:      st,
		Source:     source,
		Gate:       gate,
		Classifier: analyzer,
		Webhooks:   hooks,
		Digests:    email.NewSender(newEmailProvider(c.Email), c.Email.AppURL),
	})
}

func newEmailProvider(c config.EmailConfig) email.Provider {
	if c.Provider == "brevo" {
		return email.NewBrevoProvider(c.BrevoAPIKey, c.FromAddr, c.FromName)
	}
	return email.LogProvider{}
}
