package discovery

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/usage"
	"github.com/sells-group/leadwatch/pkg/reddit"
)

type harness struct {
	store   *memStore
	source  *fakeSource
	gate    Gate
	hooks   *fakeBroadcaster
	digests *fakeDigests
	sleeps  []time.Duration
	worker  *Worker
}

func newHarness(st *memStore, src *fakeSource, gate Gate) *harness {
	h := &harness{store: st, source: src, gate: gate, hooks: &fakeBroadcaster{}, digests: &fakeDigests{}}
	w := NewWorker(Config{PageSize: 50, MaxAttempts: 3, BackoffBase: time.Second, QualityThreshold: 70}, Deps{
		Store:      st,
		Source:     src,
		Gate:       gate,
		Classifier: &fakeClassifier{},
		Webhooks:   h.hooks,
		Digests:    h.digests,
	})
	w.now = func() time.Time { return testNow }
	w.enricher.now = w.now
	w.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	h.worker = w
	return h
}

func competitorSub(id string) model.Subscription {
	return model.Subscription{
		ID:               id,
		OwnerID:          "owner-1",
		Name:             "Acme watch",
		IsActive:         true,
		TargetSubreddits: []string{"saas", "startups"},
		Competitors:      []string{"Acme", "Globex"},
		Owner:            proOwner("owner-1"),
	}
}

// scenarioSource returns 3 submissions and 2 comments, one of which repeats a
// submission URL. With the test clock the scores are 100, 65, 81 and 80.
func scenarioSource() *fakeSource {
	dup := post("c", "saas", "Globex alternatives?", 0, 10, 0.9)
	dup.Kind = "t1"
	comment := post("d", "startups", "Acme pricing thread", 24*time.Hour, 100, 1)
	comment.Kind = "t1"
	return &fakeSource{
		submissions: []reddit.Post{
			post("a", "saas", "Moving off Acme", 0, 100, 1),
			post("b", "saas", "Acme vs Globex", 0, 0, 1),
			post("c", "saas", "Globex alternatives?", 0, 10, 0.9),
		},
		comments: []reddit.Post{dup, comment},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(newMemStore(competitorSub("sub-1")), scenarioSource(), &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, h.store.leadCount(), "4 unique URLs out of 5 raw signals")
	assert.Equal(t, 4, res.LeadsCreated)
	for _, l := range h.store.leads {
		assert.Equal(t, model.LeadTypeCompetitorMention, l.Type)
		assert.Equal(t, model.IntentCompetitorMention, l.Intent)
		assert.Equal(t, "sub-1", l.SubscriptionID)
	}

	got := map[string]model.Priority{}
	for _, b := range h.hooks.sent {
		got[b.url] = b.priority
	}
	assert.Equal(t, map[string]model.Priority{
		"https://reddit.com/r/saas/comments/a/":     model.PriorityUrgent,
		"https://reddit.com/r/saas/comments/c/":     model.PriorityHigh,
		"https://reddit.com/r/startups/comments/d/": model.PriorityHigh,
	}, got)

	require.Len(t, h.digests.sent, 1)
	assert.Len(t, h.digests.sent[0].leads, 3)
	assert.Equal(t, "Acme watch", h.digests.sent[0].subscription)

	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 3, res.WebhooksSent)
	assert.Equal(t, 1, res.DigestsSent)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, testNow, res.StartedAt)
	require.Len(t, h.store.runs, 1)
	assert.Same(t, res, h.store.runs[0])
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(newMemStore(competitorSub("sub-1")), scenarioSource(), &fakeGate{})

	first, err := h.worker.Run(context.Background())
	require.NoError(t, err)
	second, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, first.LeadsCreated)
	assert.Zero(t, second.LeadsCreated)
	assert.Zero(t, second.WebhooksSent)
	assert.Zero(t, second.DigestsSent)
	assert.Equal(t, 4, h.store.leadCount())
	assert.Len(t, h.hooks.sent, 3)
	assert.Len(t, h.digests.sent, 1)
}

func TestRun_QuotaReachedSkips(t *testing.T) {
	st := newMemStore(competitorSub("sub-1"))
	for _, url := range []string{"https://reddit.com/old1", "https://reddit.com/old2"} {
		_, _, err := st.InsertLeadIfAbsent(context.Background(), model.PersistedLead{URL: url, OwnerID: "owner-1"})
		require.NoError(t, err)
	}
	gate := usage.NewGate(st, usage.Limits{
		Leads: map[string]int{"pro": 2},
		AI:    map[string]map[string]int{"pro": {"competitor": 10}},
	})
	src := scenarioSource()
	h := newHarness(st, src, gate)

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.LeadsCreated)
	assert.Equal(t, 2, st.leadCount())
	assert.Zero(t, src.count("submissions"))
	assert.Empty(t, h.sleeps, "skips are not retried")
}

func TestRun_BelowQuotaWithRealGate(t *testing.T) {
	st := newMemStore(competitorSub("sub-1"))
	gate := usage.NewGate(st, usage.Limits{
		Leads: map[string]int{"pro": 1000},
		AI:    map[string]map[string]int{"pro": {"competitor": 10}},
	})
	h := newHarness(st, scenarioSource(), gate)

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.LeadsCreated)
	assert.Equal(t, 1, st.aiUsage["owner-1/competitor/"+usage.Period(time.Now())])
}

func TestRun_MissingOwnerSkipped(t *testing.T) {
	sub := competitorSub("sub-1")
	sub.Owner = nil
	src := scenarioSource()
	h := newHarness(newMemStore(sub), src, &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, src.count("submissions"))
	assert.Empty(t, h.sleeps)
}

func TestRun_RetryBound(t *testing.T) {
	failing := &fakeSource{err: assert.AnError}
	h := newHarness(newMemStore(competitorSub("sub-1")), failing, &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, failing.count("submissions"))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Succeeded)
}

func TestRun_FailureIsolatedPerSubscription(t *testing.T) {
	broken := competitorSub("sub-1")
	broken.OwnerID = "owner-bad"
	broken.Owner = proOwner("owner-bad")
	healthy := competitorSub("sub-2")

	gate := &fakeGate{}
	h := newHarness(newMemStore(broken, healthy), scenarioSource(), gate)
	h.worker.gate = ownerFailingGate{Gate: gate, ownerID: "owner-bad"}

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 4, res.LeadsCreated)
	assert.Len(t, h.sleeps, 2)
}

// ownerFailingGate errors for one owner and defers to Gate for the rest.
type ownerFailingGate struct {
	Gate
	ownerID string
}

func (g ownerFailingGate) CheckAndMaybeConsume(ctx context.Context, owner *model.Owner, kind usage.Kind) (bool, error) {
	if owner.ID == g.ownerID {
		return false, assert.AnError
	}
	return g.Gate.CheckAndMaybeConsume(ctx, owner, kind)
}

func TestRun_Pagination(t *testing.T) {
	st := newMemStore(eligibleSubs(120)...)
	h := newHarness(st, &fakeSource{}, &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 120, res.Processed)
	assert.Equal(t, 120, res.Succeeded)
	assert.Equal(t, 4, st.listCalls)
}

func TestRun_ListErrorAborts(t *testing.T) {
	st := newMemStore(competitorSub("sub-1"))
	st.listErr = assert.AnError
	h := newHarness(st, scenarioSource(), &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, res.Processed)
	assert.Len(t, st.runs, 1, "partial run is still recorded")
}

func TestProcessSubscription_CompetitorStageGating(t *testing.T) {
	t.Run("non-pro owner", func(t *testing.T) {
		sub := competitorSub("sub-1")
		sub.Owner.Plan = model.PlanStarter
		src := scenarioSource()
		h := newHarness(newMemStore(sub), src, &fakeGate{})

		stats, err := h.worker.ProcessSubscription(context.Background(), sub)
		require.NoError(t, err)
		assert.Zero(t, stats.LeadsCreated)
		assert.Zero(t, src.count("submissions"))
	})

	t.Run("competitor quota denied", func(t *testing.T) {
		sub := competitorSub("sub-1")
		src := scenarioSource()
		gate := &fakeGate{deny: map[usage.Kind]bool{usage.KindCompetitor: true}}
		h := newHarness(newMemStore(sub), src, gate)

		stats, err := h.worker.ProcessSubscription(context.Background(), sub)
		require.NoError(t, err, "denial skips the stage, not the subscription")
		assert.Zero(t, stats.LeadsCreated)
		assert.Zero(t, src.count("submissions"))
	})

	t.Run("no competitors", func(t *testing.T) {
		sub := competitorSub("sub-1")
		sub.Competitors = nil
		gate := &fakeGate{}
		h := newHarness(newMemStore(sub), scenarioSource(), gate)

		_, err := h.worker.ProcessSubscription(context.Background(), sub)
		require.NoError(t, err)
		assert.Zero(t, gate.calls[usage.KindCompetitor])
	})
}

func globalSub(last *time.Time) model.Subscription {
	sub := competitorSub("sub-1")
	sub.Competitors = nil
	sub.GeneratedKeywords = []string{"crm for startups"}
	sub.NegativeKeywords = []string{"hiring"}
	sub.SubredditBlacklist = []string{"spam"}
	sub.LastGlobalSearchAt = last
	return sub
}

func globalSource() *fakeSource {
	return &fakeSource{global: []reddit.Post{
		post("g1", "sales", "Which CRM for startups?", 0, 100, 1),
		post("g2", "jobs", "We are hiring a CRM admin", 0, 100, 1),
		post("g3", "spam", "Best CRM ever", 0, 100, 1),
		post("g1", "sales", "Which CRM for startups?", 0, 100, 1),
	}}
}

func TestProcessSubscription_GlobalSearch(t *testing.T) {
	stale := testNow.Add(-31 * time.Hour)
	sub := globalSub(&stale)
	st := newMemStore(sub)
	src := globalSource()
	h := newHarness(st, src, &fakeGate{})

	stats, err := h.worker.ProcessSubscription(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, 1, src.count("global"))
	assert.Equal(t, 1, stats.LeadsCreated)
	lead := st.leads["https://reddit.com/r/sales/comments/g1/"]
	assert.Equal(t, model.LeadTypeDirect, lead.Type)
	assert.Equal(t, "solution_seeking", lead.Intent)
	assert.Equal(t, testNow, st.marked["sub-1"])
	assert.Equal(t, 1, stats.DigestsSent)
}

func TestProcessSubscription_GlobalSearchTimeGate(t *testing.T) {
	tests := []struct {
		name       string
		last       *time.Time
		wantSearch int
	}{
		{"never searched", nil, 1},
		{"searched 29h ago", ptr(testNow.Add(-29 * time.Hour)), 0},
		{"searched 30h ago", ptr(testNow.Add(-30 * time.Hour)), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := globalSub(tt.last)
			st := newMemStore(sub)
			src := globalSource()
			h := newHarness(st, src, &fakeGate{})

			_, err := h.worker.ProcessSubscription(context.Background(), sub)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSearch, src.count("global"))
			_, marked := st.marked["sub-1"]
			assert.Equal(t, tt.wantSearch == 1, marked)
		})
	}
}

func TestProcessSubscription_MarkFailureRetried(t *testing.T) {
	sub := globalSub(nil)
	st := newMemStore(sub)
	st.markErr = assert.AnError
	src := globalSource()
	h := newHarness(st, src, &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, src.count("global"))
	assert.Equal(t, 1, res.LeadsCreated, "leads from the first attempt are counted once")
	assert.Equal(t, 1, st.leadCount())

	require.Len(t, h.hooks.sent, 1, "lead created on the first attempt is still announced")
	assert.Equal(t, "https://reddit.com/r/sales/comments/g1/", h.hooks.sent[0].url)
	require.Len(t, h.digests.sent, 1)
	assert.Len(t, h.digests.sent[0].leads, 1)
	assert.Equal(t, 1, res.WebhooksSent)
	assert.Equal(t, 1, res.DigestsSent)
}

func TestRun_LeadsFromFailedAttemptNotified(t *testing.T) {
	sub := globalSub(nil)
	sub.Competitors = []string{"Acme", "Globex"}
	src := scenarioSource()
	src.global = globalSource().global
	src.globalFails = 1
	st := newMemStore(sub)
	h := newHarness(st, src, &fakeGate{})

	res, err := h.worker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, src.count("submissions"))
	assert.Equal(t, 2, src.count("global"))
	assert.Equal(t, 5, res.LeadsCreated)
	assert.Equal(t, 5, st.leadCount())

	got := map[string]model.Priority{}
	for _, b := range h.hooks.sent {
		got[b.url] = b.priority
	}
	assert.Equal(t, map[string]model.Priority{
		"https://reddit.com/r/saas/comments/a/":     model.PriorityUrgent,
		"https://reddit.com/r/saas/comments/c/":     model.PriorityHigh,
		"https://reddit.com/r/startups/comments/d/": model.PriorityHigh,
		"https://reddit.com/r/sales/comments/g1/":   model.PriorityUrgent,
	}, got)
	assert.Len(t, h.hooks.sent, 4, "each lead is announced once")

	require.Len(t, h.digests.sent, 1)
	assert.Len(t, h.digests.sent[0].leads, 4)
	assert.Equal(t, 4, res.WebhooksSent)
	assert.Equal(t, 1, res.DigestsSent)
}

func TestProcessSubscription_StageFailureStillNotifies(t *testing.T) {
	sub := globalSub(nil)
	sub.Competitors = []string{"Acme"}
	src := scenarioSource()
	src.global = globalSource().global
	src.globalFails = 1
	h := newHarness(newMemStore(sub), src, &fakeGate{})

	stats, err := h.worker.ProcessSubscription(context.Background(), sub)
	require.Error(t, err)

	assert.Equal(t, 4, stats.LeadsCreated)
	assert.Equal(t, 3, stats.WebhooksSent)
	assert.Equal(t, 1, stats.DigestsSent)
}

func TestProcessSubscription_BothStagesOneDigest(t *testing.T) {
	sub := globalSub(nil)
	sub.Competitors = []string{"Acme"}
	src := scenarioSource()
	src.global = globalSource().global
	h := newHarness(newMemStore(sub), src, &fakeGate{})

	stats, err := h.worker.ProcessSubscription(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.LeadsCreated)
	require.Len(t, h.digests.sent, 1)
	var types []model.LeadType
	for _, l := range h.digests.sent[0].leads {
		types = append(types, l.Type)
	}
	assert.True(t, slices.Contains(types, model.LeadTypeDirect))
	assert.True(t, slices.Contains(types, model.LeadTypeCompetitorMention))
}

func ptr[T any](v T) *T { return &v }
