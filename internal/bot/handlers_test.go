package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shopbot/internal/broadcast"
	"shopbot/internal/notify"
	"shopbot/internal/store"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type fakeClient struct {
	mu    sync.Mutex
	sends []string
}

func (c *fakeClient) Send(_ context.Context, _ int64, text string, _ *transport.SendOptions) transport.DeliveryResult {
	c.mu.Lock()
	c.sends = append(c.sends, text)
	c.mu.Unlock()
	return transport.DeliveryResult{OK: true}
}

func (c *fakeClient) SendMedia(ctx context.Context, chatID int64, _ string, caption string, opt *transport.SendOptions) transport.DeliveryResult {
	return c.Send(ctx, chatID, caption, opt)
}

func (c *fakeClient) Poll(context.Context, int64, time.Duration) ([]transport.Update, bool) {
	return nil, false
}

func (c *fakeClient) lastSend() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sends) == 0 {
		return ""
	}
	return c.sends[len(c.sends)-1]
}

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]store.User // keyed by chat id
	nextID   int64
	products []store.Product
	orders   int
}

func (s *fakeStore) UpsertUser(_ context.Context, u store.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = map[int64]store.User{}
	}
	if existing, ok := s.users[u.ChatID]; ok {
		return existing.ID, nil
	}
	s.nextID++
	u.ID = s.nextID
	s.users[u.ChatID] = u
	return u.ID, nil
}

func (s *fakeStore) ResolveRecipient(_ context.Context, userID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == userID {
			return u.ChatID, true, nil
		}
	}
	return 0, false, nil
}

func (s *fakeStore) ListUsers(context.Context, store.UserFilter) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeStore) CreateOrder(context.Context, int64, float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders++
	return int64(s.orders), nil
}

func (s *fakeStore) TopPopularProducts(context.Context, int) ([]store.Product, error) {
	return s.products, nil
}

func (s *fakeStore) ListActiveTemplates(context.Context) ([]store.PostTemplate, error) {
	return nil, nil
}

func (s *fakeStore) RecordNotification(context.Context, store.NotificationRecord) error { return nil }

func (s *fakeStore) RecordAutopostStat(context.Context, store.AutopostStat) error { return nil }

func (s *fakeStore) PruneDeliveryHistory(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *fakeStore) Close() error { return nil }

func newTestHandlers(owners []int64) (*Handlers, *fakeClient, *fakeStore, *notify.Service) {
	client := &fakeClient{}
	st := &fakeStore{}
	n := notify.New(notify.Config{Enabled: true}, client, st, logx.Nop(), nil)
	d := broadcast.New(broadcast.Config{Throttle: time.Microsecond}, client, st, logx.Nop(), nil)
	h := New(Config{Owners: owners}, client, st, n, d, logx.Nop())
	return h, client, st, n
}

func TestStartRegistersUser(t *testing.T) {
	t.Parallel()

	h, client, st, n := newTestHandlers(nil)
	err := h.HandleMessage(context.Background(), &transport.Message{
		ChatID: 555, FromID: 777, FromUsername: "newbie", Text: "/start",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if len(st.users) != 1 {
		t.Fatalf("users = %d, want registration on /start", len(st.users))
	}
	if !strings.Contains(client.lastSend(), "Welcome") {
		t.Fatalf("reply = %q, want a greeting", client.lastSend())
	}
	if n.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, want queued welcome notification", n.QueueLen())
	}
}

func TestUnknownCommandGetsHint(t *testing.T) {
	t.Parallel()

	h, client, _, _ := newTestHandlers(nil)
	_ = h.HandleMessage(context.Background(), &transport.Message{ChatID: 1, FromID: 1, Text: "/frobnicate"})
	if !strings.Contains(client.lastSend(), "/help") {
		t.Fatalf("reply = %q, want a /help hint", client.lastSend())
	}

	// Plain chatter is ignored.
	before := len(client.sends)
	_ = h.HandleMessage(context.Background(), &transport.Message{ChatID: 1, FromID: 1, Text: "hello there"})
	if len(client.sends) != before {
		t.Fatal("plain text message produced a reply")
	}
}

func TestCommandBotSuffixStripped(t *testing.T) {
	t.Parallel()

	h, client, _, _ := newTestHandlers(nil)
	_ = h.HandleMessage(context.Background(), &transport.Message{ChatID: 1, FromID: 1, Text: "/help@shop_bot"})
	if !strings.Contains(client.lastSend(), "Commands") {
		t.Fatalf("reply = %q, want the help text", client.lastSend())
	}
}

func TestBroadcastCommandOwnerOnly(t *testing.T) {
	t.Parallel()

	h, client, st, _ := newTestHandlers([]int64{9})
	ctx := context.Background()

	// Seed one recipient.
	if _, err := st.UpsertUser(ctx, store.User{ChatID: 100}); err != nil {
		t.Fatal(err)
	}

	_ = h.HandleMessage(ctx, &transport.Message{ChatID: 2, FromID: 2, Text: "/broadcast all hi"})
	if !strings.Contains(client.lastSend(), "restricted") {
		t.Fatalf("reply = %q, want the restriction notice", client.lastSend())
	}

	_ = h.HandleMessage(ctx, &transport.Message{ChatID: 9, FromID: 9, Text: "/broadcast all hi"})
	if !strings.Contains(client.lastSend(), "1 delivered") {
		t.Fatalf("reply = %q, want a delivery summary", client.lastSend())
	}
}

func TestBroadcastCommandUsage(t *testing.T) {
	t.Parallel()

	h, client, _, _ := newTestHandlers([]int64{9})
	_ = h.HandleMessage(context.Background(), &transport.Message{ChatID: 9, FromID: 9, Text: "/broadcast all"})
	if !strings.Contains(client.lastSend(), "Usage:") {
		t.Fatalf("reply = %q, want usage help", client.lastSend())
	}
}

func TestBuyCallbackCreatesOrderAndQueuesNotification(t *testing.T) {
	t.Parallel()

	h, _, st, n := newTestHandlers(nil)
	st.products = []store.Product{{ID: 3, Name: "Gadget", Price: 5}}

	err := h.HandleCallback(context.Background(), &transport.Callback{
		FromID: 7, ChatID: 70, Data: "buy:3",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if st.orders != 1 {
		t.Fatalf("orders = %d, want 1", st.orders)
	}
	if n.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, want queued order confirmation", n.QueueLen())
	}
}
