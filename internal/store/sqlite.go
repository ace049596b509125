package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadwatch/internal/db"
	"github.com/sells-group/leadwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS owners (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	plan                TEXT NOT NULL DEFAULT 'free',
	subscription_status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	is_active             BOOLEAN NOT NULL DEFAULT 1,
	target_subreddits     TEXT NOT NULL DEFAULT '[]',
	competitors           TEXT NOT NULL DEFAULT '[]',
	generated_keywords    TEXT NOT NULL DEFAULT '[]',
	negative_keywords     TEXT NOT NULL DEFAULT '[]',
	subreddit_blacklist   TEXT NOT NULL DEFAULT '[]',
	last_global_search_at DATETIME,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
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
	posted_at         DATETIME NOT NULL,
	opportunity_score INTEGER NOT NULL DEFAULT 0,
	intent            TEXT NOT NULL DEFAULT '',
	sentiment         TEXT NOT NULL DEFAULT '',
	num_comments      INTEGER NOT NULL DEFAULT 0,
	upvote_ratio      REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL
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
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	url                TEXT NOT NULL,
	type               TEXT NOT NULL DEFAULT 'generic',
	is_active          BOOLEAN NOT NULL DEFAULT 1,
	events             TEXT NOT NULL DEFAULT '["lead.discovered"]',
	filters            TEXT NOT NULL DEFAULT '{}',
	rate_limit_minutes INTEGER NOT NULL DEFAULT 0,
	last_triggered_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_owner ON webhook_endpoints(owner_id);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id         TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	result     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_started_at ON discovery_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTime normalizes timestamps so their text encoding sorts chronologically.
func sqliteTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (s *SQLiteStore) ListActiveSubscriptionsPage(ctx context.Context, cursor string, limit int) ([]model.Subscription, error) {
	query, args, err := subscriptionPageQuery(cursor, limit, sq.Question)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subscriptions")
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var (
			sub                              model.Subscription
			lists                            subscriptionLists
			lastGlobal                       sql.NullTime
			ownerID, email, name, plan, stat sql.NullString
		)
		if err := rows.Scan(
			&sub.ID, &sub.OwnerID, &sub.Name, &sub.IsActive,
			&lists.targets, &lists.competitors, &lists.keywords,
			&lists.negatives, &lists.blacklist, &lastGlobal,
			&ownerID, &email, &name, &plan, &stat,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		if err := lists.decode(&sub); err != nil {
			return nil, err
		}
		if lastGlobal.Valid {
			t := lastGlobal.Time.UTC()
			sub.LastGlobalSearchAt = &t
		}
		if ownerID.Valid {
			sub.Owner = newOwner(ownerID.String, email.String, name.String, plan.String, stat.String)
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: iterate subscriptions")
}

func (s *SQLiteStore) MarkGlobalSearch(ctx context.Context, subscriptionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_global_search_at = ? WHERE id = ?`,
		sqliteTime(at), subscriptionID,
	)
	return eris.Wrapf(err, "sqlite: mark global search %s", subscriptionID)
}

func (s *SQLiteStore) InsertLeadIfAbsent(ctx context.Context, lead model.PersistedLead) (*model.PersistedLead, bool, error) {
	lead.ID = uuid.NewString()
	lead.CreatedAt = sqliteTime(time.Now())
	lead.PostedAt = sqliteTime(lead.PostedAt)

	query, args, err := db.InsertIgnore(leadInsert, leadValues(&lead), sq.Question)
	if err != nil {
		return nil, false, err
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&lead.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "sqlite: insert lead %s", lead.URL)
	}
	return &lead, true, nil
}

func (s *SQLiteStore) CountLeadsSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE owner_id = ? AND created_at >= ?`,
		ownerID, sqliteTime(since),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count leads for owner %s", ownerID)
}

func (s *SQLiteStore) CountLeads(ctx context.Context, ownerID, subscriptionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE owner_id = ? AND subscription_id = ?`,
		ownerID, subscriptionID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count leads for subscription %s", subscriptionID)
}

const sqliteIncrementAIUsage = `INSERT INTO ai_usage (owner_id, period, feature, count) VALUES (?, ?, ?, 1)
ON CONFLICT (owner_id, period, feature) DO UPDATE SET count = ai_usage.count + 1
WHERE ai_usage.count < ?
RETURNING count`

func (s *SQLiteStore) IncrementAIUsage(ctx context.Context, ownerID, feature, period string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx, sqliteIncrementAIUsage, ownerID, period, feature, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: increment ai usage %s/%s", ownerID, feature)
	}
	return true, nil
}

func (s *SQLiteStore) ListWebhooks(ctx context.Context, ownerID string) ([]model.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, url, type, is_active, events, filters, rate_limit_minutes, last_triggered_at
		 FROM webhook_endpoints WHERE owner_id = ? AND is_active = 1 ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list webhooks")
	}
	defer rows.Close()

	var hooks []model.WebhookEndpoint
	for rows.Next() {
		var (
			w               model.WebhookEndpoint
			typ             string
			events, filters []byte
			lastTriggered   sql.NullTime
		)
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Name, &w.URL, &typ, &w.IsActive,
			&events, &filters, &w.RateLimitMinutes, &lastTriggered); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan webhook")
		}
		w.Type = model.WebhookType(typ)
		if lastTriggered.Valid {
			t := lastTriggered.Time.UTC()
			w.LastTriggeredAt = &t
		}
		if err := decodeWebhook(&w, events, filters); err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, eris.Wrap(rows.Err(), "sqlite: iterate webhooks")
}

func (s *SQLiteStore) TouchWebhook(ctx context.Context, webhookID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_endpoints SET last_triggered_at = ? WHERE id = ?`,
		sqliteTime(at), webhookID,
	)
	return eris.Wrapf(err, "sqlite: touch webhook %s", webhookID)
}

func (s *SQLiteStore) SaveRun(ctx context.Context, result *model.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_runs (id, started_at, result) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET result = excluded.result`,
		result.RunID, sqliteTime(result.StartedAt), string(data),
	)
	return eris.Wrapf(err, "sqlite: save run %s", result.RunID)
}

func (s *SQLiteStore) LastRun(ctx context.Context) (*model.RunResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM discovery_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last run")
	}

	var result model.RunResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}
	return &result, nil
}
