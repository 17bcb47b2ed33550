package notify

import (
	"testing"
	"time"
)

func TestDelayQueueOrdersByDueTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()
	q.Push(Notification{Title: "later", NotBefore: base.Add(10 * time.Minute)})
	q.Push(Notification{Title: "now", NotBefore: base})
	q.Push(Notification{Title: "soon", NotBefore: base.Add(time.Minute)})

	now := base.Add(time.Hour)
	want := []string{"now", "soon", "later"}
	for _, title := range want {
		n, ok, _ := q.Pop(now)
		if !ok {
			t.Fatalf("Pop: queue empty, want %q", title)
		}
		if n.Title != title {
			t.Fatalf("Pop order: got %q, want %q", n.Title, title)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", q.Len())
	}
}

func TestDelayQueueFIFOOnEqualDueTimes(t *testing.T) {
	t.Parallel()

	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()
	for _, title := range []string{"a", "b", "c"} {
		q.Push(Notification{Title: title, NotBefore: due})
	}
	for _, title := range []string{"a", "b", "c"} {
		n, ok, _ := q.Pop(due)
		if !ok || n.Title != title {
			t.Fatalf("Pop = (%q, %v), want (%q, true)", n.Title, ok, title)
		}
	}
}

func TestDelayQueuePopNotDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()
	q.Push(Notification{Title: "future", NotBefore: now.Add(5 * time.Minute)})

	n, ok, wait := q.Pop(now)
	if ok {
		t.Fatalf("Pop returned %q, want nothing due", n.Title)
	}
	if wait != 5*time.Minute {
		t.Fatalf("wait = %v, want 5m", wait)
	}
	if q.Len() != 1 {
		t.Fatalf("item was lost: Len = %d, want 1", q.Len())
	}
}

func TestDelayQueueUntilDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()

	if _, ok := q.UntilDue(now); ok {
		t.Fatal("UntilDue on empty queue reported an item")
	}

	q.Push(Notification{NotBefore: now.Add(2 * time.Minute)})
	d, ok := q.UntilDue(now)
	if !ok || d != 2*time.Minute {
		t.Fatalf("UntilDue = (%v, %v), want (2m, true)", d, ok)
	}

	d, ok = q.UntilDue(now.Add(3 * time.Minute))
	if !ok || d != 0 {
		t.Fatalf("UntilDue past due = (%v, %v), want (0, true)", d, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("UntilDue must not pop: Len = %d, want 1", q.Len())
	}
}

func TestDelayQueueKickSignaledOnPush(t *testing.T) {
	t.Parallel()

	q := newDelayQueue()
	q.Push(Notification{})
	select {
	case <-q.Kick():
	default:
		t.Fatal("Kick channel not signaled after Push")
	}
}
