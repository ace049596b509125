package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
)

// LeadStore inserts leads keyed by URL.
type LeadStore interface {
	InsertLeadIfAbsent(ctx context.Context, lead model.PersistedLead) (*model.PersistedLead, bool, error)
}

// Persister writes enriched signals as leads.
type Persister struct {
	store LeadStore
}

// NewPersister creates a Persister.
func NewPersister(store LeadStore) *Persister {
	return &Persister{store: store}
}

// PersistAll inserts every signal that does not already exist and returns the
// newly created leads. Existing URLs are left untouched and not returned.
// A failed insert is logged and skipped.
func (p *Persister) PersistAll(ctx context.Context, enriched []model.EnrichedSignal, subscriptionID, ownerID string, leadType model.LeadType) []model.PersistedLead {
	var created []model.PersistedLead
	for _, sig := range enriched {
		lead, ok, err := p.store.InsertLeadIfAbsent(ctx, model.NewPersistedLead(sig, subscriptionID, ownerID, leadType))
		if err != nil {
			zap.L().Warn("discovery: persist lead failed",
				zap.String("subscription_id", subscriptionID),
				zap.String("url", sig.URL),
				zap.Error(err),
			)
			continue
		}
		if ok {
			created = append(created, *lead)
		}
	}
	return created
}
