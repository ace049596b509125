// Package usage enforces per-owner monthly quotas on lead acquisition and
// AI-assisted features.
package usage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
)

// Kind names a quota. KindLeads is read-only; every other kind is an AI
// feature whose check consumes one unit when allowed.
type Kind string

const (
	KindLeads      Kind = "leads"
	KindReply      Kind = "reply"
	KindIntent     Kind = "intent"
	KindCompetitor Kind = "competitor"
)

// Store is the persistence the gate reads and writes.
type Store interface {
	CountLeadsSince(ctx context.Context, ownerID string, since time.Time) (int, error)
	IncrementAIUsage(ctx context.Context, ownerID, feature, period string, limit int) (bool, error)
}

// Limits is the plan limit table. Plans missing from a map fall back to
// DefaultPlan.
type Limits struct {
	Leads       map[string]int
	AI          map[string]map[string]int
	DefaultPlan string
}

// Gate answers whether an owner may acquire more leads or spend more AI
// calls in the current calendar month.
type Gate struct {
	store  Store
	limits Limits
	now    func() time.Time
}

// NewGate creates a Gate over the given store and limit table.
func NewGate(store Store, limits Limits) *Gate {
	return &Gate{store: store, limits: limits, now: time.Now}
}

// LeadLimit returns the monthly lead limit for a plan.
func (g *Gate) LeadLimit(plan model.Plan) int {
	if n, ok := g.limits.Leads[string(plan)]; ok {
		return n
	}
	return g.limits.Leads[g.limits.DefaultPlan]
}

// AILimit returns the monthly call limit for an AI feature on a plan.
func (g *Gate) AILimit(plan model.Plan, kind Kind) int {
	features, ok := g.limits.AI[string(plan)]
	if !ok {
		features = g.limits.AI[g.limits.DefaultPlan]
	}
	return features[string(kind)]
}

// PeriodStart is the first instant of the calendar month containing t, in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Period is the key of the calendar month containing t, e.g. "2026-10".
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CheckAndMaybeConsume reports whether owner may use kind. For KindLeads the
// check counts this month's persisted leads and writes nothing. For AI kinds
// the check and a one-unit increment happen atomically in the store.
func (g *Gate) CheckAndMaybeConsume(ctx context.Context, owner *model.Owner, kind Kind) (bool, error) {
	if owner == nil {
		return false, eris.New("usage: nil owner")
	}
	if kind == KindLeads {
		return g.leadsAvailable(ctx, owner)
	}
	return g.consumeAI(ctx, owner, kind)
}

func (g *Gate) leadsAvailable(ctx context.Context, owner *model.Owner) (bool, error) {
	limit := g.LeadLimit(owner.Plan)
	used, err := g.store.CountLeadsSince(ctx, owner.ID, PeriodStart(g.now()))
	if err != nil {
		return false, eris.Wrapf(err, "usage: count leads for %s", owner.ID)
	}
	if used >= limit {
		zap.L().Info("usage: lead quota reached",
			zap.String("owner_id", owner.ID),
			zap.String("plan", string(owner.Plan)),
			zap.Int("used", used),
			zap.Int("limit", limit),
		)
		return false, nil
	}
	return true, nil
}

func (g *Gate) consumeAI(ctx context.Context, owner *model.Owner, kind Kind) (bool, error) {
	limit := g.AILimit(owner.Plan, kind)
	if limit <= 0 {
		return false, nil
	}
	ok, err := g.store.IncrementAIUsage(ctx, owner.ID, string(kind), Period(g.now()), limit)
	if err != nil {
		return false, eris.Wrapf(err, "usage: track %s for %s", kind, owner.ID)
	}
	if !ok {
		zap.L().Debug("usage: ai quota reached",
			zap.String("owner_id", owner.ID),
			zap.String("feature", string(kind)),
			zap.Int("limit", limit),
		)
	}
	return ok, nil
}
