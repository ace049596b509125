package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/sentiment"
	"github.com/sells-group/leadwatch/internal/usage"
	"github.com/sells-group/leadwatch/pkg/reddit"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory Store with the same URL uniqueness as the real ones.
type memStore struct {
	mu        sync.Mutex
	subs      []model.Subscription
	leads     map[string]model.PersistedLead
	insertErr map[string]error
	listErr   error
	listCalls int
	marked    map[string]time.Time
	markErr   error
	aiUsage   map[string]int
	runs      []*model.RunResult
	nextID    int
}

func newMemStore(subs ...model.Subscription) *memStore {
	s := &memStore{
		leads:   make(map[string]model.PersistedLead),
		marked:  make(map[string]time.Time),
		aiUsage: make(map[string]int),
	}
	s.subs = append(s.subs, subs...)
	slices.SortFunc(s.subs, func(a, b model.Subscription) int { return strings.Compare(a.ID, b.ID) })
	return s
}

func (s *memStore) ListActiveSubscriptionsPage(_ context.Context, cursor string, limit int) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var page []model.Subscription
	for _, sub := range s.subs {
		if sub.ID <= cursor || !sub.IsActive {
			continue
		}
		if sub.Owner != nil && !sub.Owner.SubscriptionStatus.Eligible() {
			continue
		}
		page = append(page, sub)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (s *memStore) InsertLeadIfAbsent(_ context.Context, lead model.PersistedLead) (*model.PersistedLead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErr[lead.URL]; err != nil {
		return nil, false, err
	}
	if _, ok := s.leads[lead.URL]; ok {
		return nil, false, nil
	}
	s.nextID++
	lead.ID = fmt.Sprintf("lead-%d", s.nextID)
	lead.CreatedAt = time.Now()
	s.leads[lead.URL] = lead
	return &lead, true, nil
}

func (s *memStore) MarkGlobalSearch(_ context.Context, subscriptionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.marked[subscriptionID] = at
	return nil
}

func (s *memStore) SaveRun(_ context.Context, run *model.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) CountLeadsSince(_ context.Context, ownerID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.leads {
		if l.OwnerID == ownerID && !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) IncrementAIUsage(_ context.Context, ownerID, feature, period string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerID + "/" + feature + "/" + period
	if limit <= 0 || s.aiUsage[key] >= limit {
		return false, nil
	}
	s.aiUsage[key]++
	return true, nil
}

func (s *memStore) leadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

// fakeSource serves canned search results.
type fakeSource struct {
	mu          sync.Mutex
	submissions []reddit.Post
	comments    []reddit.Post
	global      []reddit.Post
	err         error
	globalFails int // global searches that fail before one succeeds
	calls       map[string]int
}

func (f *fakeSource) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	return f.err
}

func (f *fakeSource) SearchSubmissions(_ context.Context, _, _ []string) ([]reddit.Post, error) {
	if err := f.record("submissions"); err != nil {
		return nil, err
	}
	return f.submissions, nil
}

func (f *fakeSource) SearchComments(_ context.Context, _, _ []string) ([]reddit.Post, error) {
	if err := f.record("comments"); err != nil {
		return nil, err
	}
	return f.comments, nil
}

func (f *fakeSource) GlobalSearch(_ context.Context, _ []string) ([]reddit.Post, error) {
	if err := f.record("global"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.globalFails > 0 {
		f.globalFails--
		return nil, eris.New("reddit: global search unavailable")
	}
	return f.global, nil
}

func (f *fakeSource) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// fakeGate allows everything not listed in deny.
type fakeGate struct {
	mu    sync.Mutex
	deny  map[usage.Kind]bool
	err   error
	calls map[usage.Kind]int
}

func (g *fakeGate) CheckAndMaybeConsume(_ context.Context, _ *model.Owner, kind usage.Kind) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[usage.Kind]int)
	}
	g.calls[kind]++
	if g.err != nil {
		return false, g.err
	}
	return !g.deny[kind], nil
}

// fakeClassifier labels everything neutral unless the title names a label.
// Titles containing "explode" fail.
type fakeClassifier struct {
	mu          sync.Mutex
	intentCalls int
}

func (c *fakeClassifier) Sentiment(_ context.Context, title, _ string, _ *model.Owner) (sentiment.Result, error) {
	switch {
	case strings.Contains(title, "explode"):
		return sentiment.Result{}, eris.New("classifier unavailable")
	case strings.Contains(title, "hate"):
		return sentiment.Result{Label: model.SentimentNegative, Score: -1}, nil
	default:
		return sentiment.Result{Label: model.SentimentNeutral}, nil
	}
}

func (c *fakeClassifier) Intent(_ context.Context, _, _ string, _ *model.Owner) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intentCalls++
	return sentiment.IntentSolutionSeeking, nil
}

type broadcast struct {
	url      string
	priority model.Priority
}

// fakeBroadcaster records every event.
type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
	fail map[string]bool
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, event string, lead *model.PersistedLead, priority model.Priority) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event != model.EventLeadDiscovered {
		return 0, eris.Errorf("unexpected event %s", event)
	}
	if b.fail[lead.URL] {
		return 0, eris.New("endpoint down")
	}
	b.sent = append(b.sent, broadcast{url: lead.URL, priority: priority})
	return 1, nil
}

type digest struct {
	ownerID      string
	subscription string
	leads        []model.PersistedLead
}

// fakeDigests records every digest.
type fakeDigests struct {
	sent []digest
	err  error
}

func (d *fakeDigests) SendLeadDigest(_ context.Context, owner *model.Owner, leads []model.PersistedLead, name string) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, digest{ownerID: owner.ID, subscription: name, leads: leads})
	return nil
}

func post(id, sub, title string, age time.Duration, comments int, ratio float64) reddit.Post {
	return reddit.Post{
		ID:          id,
		Kind:        "t3",
		Title:       title,
		Author:      "author_" + id,
		Subreddit:   sub,
		Permalink:   "/r/" + sub + "/comments/" + id + "/",
		CreatedUTC:  testNow.Add(-age).Unix(),
		NumComments: comments,
		UpvoteRatio: ratio,
	}
}

func proOwner(id string) *model.Owner {
	return &model.Owner{ID: id, Email: id + "@example.com", Plan: model.PlanPro, SubscriptionStatus: model.StatusActive}
}
