package autopost

import (
	"context"
	"sync"
	"testing"
	"time"

	"shopbot/internal/broadcast"
	"shopbot/internal/store"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type fakeClient struct {
	mu    sync.Mutex
	sends []string // text or caption in send order
}

func (c *fakeClient) Send(_ context.Context, _ int64, text string, _ *kit.SendOptions) kit.DeliveryResult {
	c.mu.Lock()
	c.sends = append(c.sends, text)
	c.mu.Unlock()
	return kit.DeliveryResult{OK: true}
}

func (c *fakeClient) SendMedia(ctx context.Context, chatID int64, _ string, caption string, opt *kit.SendOptions) kit.DeliveryResult {
	return c.Send(ctx, chatID, caption, opt)
}

func (c *fakeClient) Poll(context.Context, int64, time.Duration) ([]kit.Update, bool) {
	return nil, false
}

func (c *fakeClient) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

type fakeStore struct {
	mu        sync.Mutex
	users     []store.User
	products  []store.Product
	templates []store.PostTemplate
	stats     []store.AutopostStat
}

func (s *fakeStore) UpsertUser(context.Context, store.User) (int64, error) { return 0, nil }

func (s *fakeStore) ResolveRecipient(context.Context, int64) (int64, bool, error) {
	return 0, false, nil
}

func (s *fakeStore) ListUsers(context.Context, store.UserFilter) ([]store.User, error) {
	return s.users, nil
}

func (s *fakeStore) CreateOrder(context.Context, int64, float64) (int64, error) { return 0, nil }

func (s *fakeStore) TopPopularProducts(_ context.Context, limit int) ([]store.Product, error) {
	if limit < len(s.products) {
		return s.products[:limit], nil
	}
	return s.products, nil
}

func (s *fakeStore) ListActiveTemplates(context.Context) ([]store.PostTemplate, error) {
	return s.templates, nil
}

func (s *fakeStore) RecordNotification(context.Context, store.NotificationRecord) error { return nil }

func (s *fakeStore) RecordAutopostStat(_ context.Context, st store.AutopostStat) error {
	s.mu.Lock()
	s.stats = append(s.stats, st)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) PruneDeliveryHistory(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *fakeStore) Close() error { return nil }

func newTestTrigger(st *fakeStore, client *fakeClient) (*Trigger, *time.Time) {
	d := broadcast.New(broadcast.Config{Throttle: time.Microsecond}, client, st, logx.Nop(), nil)
	tr := New(Config{Enabled: true, Timezone: "UTC"}, st, d, logx.Nop(), nil)

	now := time.Date(2025, 6, 1, 9, 0, 10, 0, time.UTC)
	cur := &now
	tr.SetNow(func() time.Time { return *cur })
	tr.SetPause(func(context.Context, time.Duration) {})
	return tr, cur
}

func TestTriggerFiresOncePerDay(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		users: []store.User{{ID: 1, ChatID: 100}},
		templates: []store.PostTemplate{
			{ID: 1, Title: "Morning deals", Body: "fresh stock", Times: []string{"09:00"}, Audience: "all", Active: true},
		},
	}
	client := &fakeClient{}
	tr, _ := newTestTrigger(st, client)

	ctx := context.Background()
	tr.EvaluateTick(ctx)
	tr.EvaluateTick(ctx) // same minute, second tick

	if got := client.sendCount(); got != 1 {
		t.Fatalf("sends = %d, want exactly 1 per day per trigger time", got)
	}
	if len(st.stats) != 1 {
		t.Fatalf("stats = %d, want 1", len(st.stats))
	}
	if st.stats[0].TemplateID != 1 || st.stats[0].Sent != 1 || st.stats[0].Errors != 0 {
		t.Fatalf("stat = %+v, want template 1 with 1 sent", st.stats[0])
	}
}

func TestTriggerFiresAgainNextDay(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		users: []store.User{{ID: 1, ChatID: 100}},
		templates: []store.PostTemplate{
			{ID: 1, Title: "t", Body: "b", Times: []string{"09:00"}, Audience: "all", Active: true},
		},
	}
	client := &fakeClient{}
	tr, now := newTestTrigger(st, client)

	ctx := context.Background()
	tr.EvaluateTick(ctx)
	*now = now.Add(24 * time.Hour)
	tr.EvaluateTick(ctx)

	if got := client.sendCount(); got != 2 {
		t.Fatalf("sends = %d, want one per day", got)
	}
}

func TestTriggerSkipsNonMatchingMinute(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		users: []store.User{{ID: 1, ChatID: 100}},
		templates: []store.PostTemplate{
			{ID: 1, Title: "t", Body: "b", Times: []string{"18:00"}, Audience: "all", Active: true},
		},
	}
	client := &fakeClient{}
	tr, _ := newTestTrigger(st, client) // clock fixed at 09:00

	tr.EvaluateTick(context.Background())
	if got := client.sendCount(); got != 0 {
		t.Fatalf("sends = %d, want 0 outside the trigger minute", got)
	}
	if len(st.stats) != 0 {
		t.Fatalf("stats = %d, want 0", len(st.stats))
	}
}

func TestTriggerSendsPopularItemCards(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		users: []store.User{{ID: 1, ChatID: 100}},
		products: []store.Product{
			{ID: 1, Name: "Alpha", Price: 9.99, Views: 100, Sales: 50},
			{ID: 2, Name: "Beta", Price: 19.99, Views: 80, Sales: 40},
		},
		templates: []store.PostTemplate{
			{ID: 1, Title: "t", Body: "b", Times: []string{"09:00"}, Audience: "all", Active: true},
		},
	}
	client := &fakeClient{}
	tr, _ := newTestTrigger(st, client)

	tr.EvaluateTick(context.Background())

	// Main post plus one card per popular item, all to the one recipient.
	if got := client.sendCount(); got != 3 {
		t.Fatalf("sends = %d, want 3 (post + 2 cards)", got)
	}
	if st.stats[0].Sent != 3 {
		t.Fatalf("stat sent = %d, want cards included", st.stats[0].Sent)
	}
}

func TestTriggerSkipsMalformedAudience(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		users: []store.User{{ID: 1, ChatID: 100}},
		templates: []store.PostTemplate{
			{ID: 1, Title: "t", Body: "b", Times: []string{"09:00"}, Audience: "everyone", Active: true},
		},
	}
	client := &fakeClient{}
	tr, _ := newTestTrigger(st, client)

	tr.EvaluateTick(context.Background())
	if got := client.sendCount(); got != 0 {
		t.Fatalf("sends = %d, want 0 for malformed audience", got)
	}
	if len(st.stats) != 0 {
		t.Fatalf("stats = %d, want no record for a skipped firing", len(st.stats))
	}
}

func TestTriggerMultipleTimesPerTemplate(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		users: []store.User{{ID: 1, ChatID: 100}},
		templates: []store.PostTemplate{
			{ID: 1, Title: "t", Body: "b", Times: []string{"09:00", "18:00"}, Audience: "all", Active: true},
		},
	}
	client := &fakeClient{}
	tr, now := newTestTrigger(st, client)

	ctx := context.Background()
	tr.EvaluateTick(ctx) // 09:00 slot
	*now = time.Date(2025, 6, 1, 18, 0, 5, 0, time.UTC)
	tr.EvaluateTick(ctx) // 18:00 slot, same day

	if got := client.sendCount(); got != 2 {
		t.Fatalf("sends = %d, want each time slot to fire independently", got)
	}
}
