package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadwatch/internal/db"
	"github.com/sells-group/leadwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS owners (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	plan                TEXT NOT NULL DEFAULT 'free',
	subscription_status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id              TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	is_active             BOOLEAN NOT NULL DEFAULT TRUE,
	target_subreddits     JSONB NOT NULL DEFAULT '[]',
	competitors           JSONB NOT NULL DEFAULT '[]',
	generated_keywords    JSONB NOT NULL DEFAULT '[]',
	negative_keywords     JSONB NOT NULL DEFAULT '[]',
	subreddit_blacklist   JSONB NOT NULL DEFAULT '[]',
	last_global_search_at TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	subscription_id   TEXT NOT NULL,
	owner_id          TEXT NOT NULL,
	type              TEXT NOT NULL,
	external_id       TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	body              TEXT NOT NULL DEFAULT '',
	author            TEXT NOT NULL DEFAULT '',
	subreddit         TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL UNIQUE,
	posted_at         TIMESTAMPTZ NOT NULL,
	opportunity_score INTEGER NOT NULL DEFAULT 0,
	intent            TEXT NOT NULL DEFAULT '',
	sentiment         TEXT NOT NULL DEFAULT '',
	num_comments      INTEGER NOT NULL DEFAULT 0,
	upvote_ratio      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_owner_created ON leads(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_subscription ON leads(subscription_id);

CREATE TABLE IF NOT EXISTS ai_usage (
	owner_id TEXT NOT NULL,
	period   TEXT NOT NULL,
	feature  TEXT NOT NULL,
	count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_id, period, feature)
);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id           TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	url                TEXT NOT NULL,
	type               TEXT NOT NULL DEFAULT 'generic',
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	events             JSONB NOT NULL DEFAULT '["lead.discovered"]',
	filters            JSONB NOT NULL DEFAULT '{}',
	rate_limit_minutes INTEGER NOT NULL DEFAULT 0,
	last_triggered_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_owner ON webhook_endpoints(owner_id);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	result     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_started_at ON discovery_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListActiveSubscriptionsPage(ctx context.Context, cursor string, limit int) ([]model.Subscription, error) {
	query, args, err := subscriptionPageQuery(cursor, limit, sq.Dollar)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subscriptions")
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var (
			sub                              model.Subscription
			lists                            subscriptionLists
			ownerID, email, name, plan, stat *string
		)
		if err := rows.Scan(
			&sub.ID, &sub.OwnerID, &sub.Name, &sub.IsActive,
			&lists.targets, &lists.competitors, &lists.keywords,
			&lists.negatives, &lists.blacklist, &sub.LastGlobalSearchAt,
			&ownerID, &email, &name, &plan, &stat,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscription")
		}
		if err := lists.decode(&sub); err != nil {
			return nil, err
		}
		if ownerID != nil {
			sub.Owner = newOwner(*ownerID, deref(email), deref(name), deref(plan), deref(stat))
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: iterate subscriptions")
}

func (s *PostgresStore) MarkGlobalSearch(ctx context.Context, subscriptionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET last_global_search_at = $1 WHERE id = $2`,
		at.UTC(), subscriptionID,
	)
	return eris.Wrapf(err, "postgres: mark global search %s", subscriptionID)
}

func (s *PostgresStore) InsertLeadIfAbsent(ctx context.Context, lead model.PersistedLead) (*model.PersistedLead, bool, error) {
	lead.ID = uuid.NewString()
	lead.CreatedAt = time.Now().UTC()

	query, args, err := db.InsertIgnore(leadInsert, leadValues(&lead), sq.Dollar)
	if err != nil {
		return nil, false, err
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(&lead.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "postgres: insert lead %s", lead.URL)
	}
	return &lead, true, nil
}

func (s *PostgresStore) CountLeadsSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE owner_id = $1 AND created_at >= $2`,
		ownerID, since.UTC(),
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count leads for owner %s", ownerID)
}

func (s *PostgresStore) CountLeads(ctx context.Context, ownerID, subscriptionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE owner_id = $1 AND subscription_id = $2`,
		ownerID, subscriptionID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count leads for subscription %s", subscriptionID)
}

const postgresIncrementAIUsage = `INSERT INTO ai_usage (owner_id, period, feature, count) VALUES ($1, $2, $3, 1)
ON CONFLICT (owner_id, period, feature) DO UPDATE SET count = ai_usage.count + 1
WHERE ai_usage.count < $4
RETURNING count`

// IncrementAIUsage consumes one unit of an AI feature for the period when the
// owner is still below limit. The check and the increment are one statement.
func (s *PostgresStore) IncrementAIUsage(ctx context.Context, ownerID, feature, period string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	var count int
	err := s.pool.QueryRow(ctx, postgresIncrementAIUsage, ownerID, period, feature, limit).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: increment ai usage %s/%s", ownerID, feature)
	}
	return true, nil
}

func (s *PostgresStore) ListWebhooks(ctx context.Context, ownerID string) ([]model.WebhookEndpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, url, type, is_active, events, filters, rate_limit_minutes, last_triggered_at
		 FROM webhook_endpoints WHERE owner_id = $1 AND is_active = TRUE ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list webhooks")
	}
	defer rows.Close()

	var hooks []model.WebhookEndpoint
	for rows.Next() {
		var (
			w               model.WebhookEndpoint
			typ             string
			events, filters []byte
		)
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Name, &w.URL, &typ, &w.IsActive,
			&events, &filters, &w.RateLimitMinutes, &w.LastTriggeredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan webhook")
		}
		w.Type = model.WebhookType(typ)
		if err := decodeWebhook(&w, events, filters); err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, eris.Wrap(rows.Err(), "postgres: iterate webhooks")
}

func (s *PostgresStore) TouchWebhook(ctx context.Context, webhookID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_endpoints SET last_triggered_at = $1 WHERE id = $2`,
		at.UTC(), webhookID,
	)
	return eris.Wrapf(err, "postgres: touch webhook %s", webhookID)
}

func (s *PostgresStore) SaveRun(ctx context.Context, result *model.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovery_runs (id, started_at, result) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET result = EXCLUDED.result`,
		result.RunID, result.StartedAt.UTC(), data,
	)
	return eris.Wrapf(err, "postgres: save run %s", result.RunID)
}

func (s *PostgresStore) LastRun(ctx context.Context) (*model.RunResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM discovery_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last run")
	}

	var result model.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}
	return &result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
