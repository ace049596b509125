package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
)

// DefaultQualityThreshold is the minimum score that triggers notifications.
const DefaultQualityThreshold = 70

// Dispatcher notifies owners about newly created leads.
type Dispatcher struct {
	webhooks  Broadcaster
	digests   DigestSender
	threshold int
}

// DispatchResult counts what a dispatch delivered.
type DispatchResult struct {
	Qualified    int
	WebhooksSent int
	DigestSent   bool
}

// NewDispatcher creates a Dispatcher. Either sender may be nil.
func NewDispatcher(webhooks Broadcaster, digests DigestSender, threshold int) *Dispatcher {
	if threshold <= 0 {
		threshold = DefaultQualityThreshold
	}
	return &Dispatcher{webhooks: webhooks, digests: digests, threshold: threshold}
}

// Dispatch sends a lead.discovered event for each created lead at or above
// the threshold, then one digest for the qualifying leads. Failures are
// logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, created []model.PersistedLead, sub model.Subscription) DispatchResult {
	log := zap.L().With(zap.String("subscription_id", sub.ID), zap.String("owner_id", sub.OwnerID))

	var (
		res       DispatchResult
		qualified []model.PersistedLead
	)
	for i := range created {
		lead := &created[i]
		if lead.OpportunityScore < d.threshold {
			continue
		}
		qualified = append(qualified, *lead)

		if d.webhooks == nil {
			continue
		}
		priority := model.PriorityFromScore(lead.OpportunityScore)
		n, err := d.webhooks.Broadcast(ctx, model.EventLeadDiscovered, lead, priority)
		res.WebhooksSent += n
		if err != nil {
			log.Warn("discovery: webhook broadcast failed",
				zap.String("url", lead.URL),
				zap.String("priority", string(priority)),
				zap.Error(err),
			)
		}
	}
	res.Qualified = len(qualified)

	if len(qualified) == 0 || d.digests == nil {
		return res
	}
	if err := d.digests.SendLeadDigest(ctx, sub.Owner, qualified, sub.Name); err != nil {
		log.Warn("discovery: digest email failed", zap.Int("leads", len(qualified)), zap.Error(err))
		return res
	}
	res.DigestSent = true
	return res
}
