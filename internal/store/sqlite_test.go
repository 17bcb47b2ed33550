package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "shopbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "shop.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertUserAndResolve(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.UpsertUser(ctx, User{ChatID: 1001, Name: "Ada", Username: "ada"})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	// Second upsert on the same chat updates in place.
	id2, err := st.UpsertUser(ctx, User{ChatID: 1001, Name: "Ada L", Username: "ada"})
	if err != nil {
		t.Fatalf("UpsertUser again: %v", err)
	}
	if id != id2 {
		t.Fatalf("upsert created a new row: %d then %d", id, id2)
	}

	chatID, ok, err := st.ResolveRecipient(ctx, id)
	if err != nil || !ok || chatID != 1001 {
		t.Fatalf("ResolveRecipient = (%d, %v, %v), want (1001, true, nil)", chatID, ok, err)
	}

	if _, ok, err := st.ResolveRecipient(ctx, 9999); err != nil || ok {
		t.Fatalf("unknown user resolved: ok=%v err=%v", ok, err)
	}
}

func TestListUsersFilters(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	uid1, _ := st.UpsertUser(ctx, User{ChatID: 1, Name: "buyer"})
	_, _ = st.UpsertUser(ctx, User{ChatID: 2, Name: "idle"})
	_, _ = st.UpsertUser(ctx, User{ChatID: 3, Name: "staff", IsAdmin: true})

	if _, err := st.CreateOrder(ctx, uid1, 12.50); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	all, err := st.ListUsers(ctx, UserFilter{ExcludeAdmins: true})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("non-admin users = %d, want 2", len(all))
	}

	active, err := st.ListUsers(ctx, UserFilter{
		ExcludeAdmins: true,
		ActiveSince:   time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("ListUsers active: %v", err)
	}
	if len(active) != 1 || active[0].ID != uid1 {
		t.Fatalf("active users = %+v, want only the buyer", active)
	}
}

func TestTopPopularProductsRanking(t *testing.T) {
	t.Parallel()

	st := openTestStore(t).(*sqliteStore)
	ctx := context.Background()

	insert := func(name string, views, sales, stock, active int) {
		t.Helper()
		if _, err := st.db.ExecContext(ctx,
			`INSERT INTO products(name, price, views, sales_count, stock, is_active) VALUES(?,?,?,?,?,?)`,
			name, 1.0, views, sales, stock, active); err != nil {
			t.Fatalf("insert product: %v", err)
		}
	}
	// Scores (views*0.3 + sales*0.7): a=37, b=58, c=44, d high but inactive,
	// e high but out of stock.
	insert("a", 100, 10, 5, 1)
	insert("b", 40, 66, 5, 1)
	insert("c", 80, 28, 5, 1)
	insert("d", 999, 999, 5, 0)
	insert("e", 999, 999, 0, 1)

	top, err := st.TopPopularProducts(ctx, 2)
	if err != nil {
		t.Fatalf("TopPopularProducts: %v", err)
	}
	if len(top) != 2 || top[0].Name != "b" || top[1].Name != "c" {
		t.Fatalf("top = %+v, want [b c]", top)
	}
}

func TestListActiveTemplates(t *testing.T) {
	t.Parallel()

	st := openTestStore(t).(*sqliteStore)
	ctx := context.Background()

	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO scheduled_posts(title, content, time_morning, time_evening, target_audience, created_at)
		 VALUES('sale', 'big sale', '09:00', ' 18:00 ', 'active', ?)`,
		time.Now().Format(time.RFC3339)); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO scheduled_posts(title, content, target_audience, is_active, created_at)
		 VALUES('off', 'disabled', 'all', 0, ?)`,
		time.Now().Format(time.RFC3339)); err != nil {
		t.Fatalf("insert disabled template: %v", err)
	}

	got, err := st.ListActiveTemplates(ctx)
	if err != nil {
		t.Fatalf("ListActiveTemplates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("templates = %d, want only the active one", len(got))
	}
	tpl := got[0]
	if tpl.Title != "sale" || tpl.Audience != "active" {
		t.Fatalf("template = %+v", tpl)
	}
	if len(tpl.Times) != 2 || tpl.Times[0] != "09:00" || tpl.Times[1] != "18:00" {
		t.Fatalf("times = %v, want trimmed [09:00 18:00]", tpl.Times)
	}
}

func TestPruneDeliveryHistory(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-96 * time.Hour)
	if err := st.RecordNotification(ctx, NotificationRecord{UserID: 1, Title: "old", SentAt: old}); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}
	if err := st.RecordNotification(ctx, NotificationRecord{UserID: 1, Title: "new"}); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}
	if err := st.RecordAutopostStat(ctx, AutopostStat{TemplateID: 1, Sent: 3, FiredAt: old}); err != nil {
		t.Fatalf("RecordAutopostStat: %v", err)
	}

	n, err := st.PruneDeliveryHistory(ctx, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("PruneDeliveryHistory: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned = %d, want 2 (one notification, one stat)", n)
	}
}
