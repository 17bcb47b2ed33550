package notify

import (
	"container/heap"
	"sync"
	"time"
)

// delayQueue is an unbounded, goroutine-safe queue ordered by NotBefore.
//
// Items that share a due time keep FIFO order via an insertion sequence.
// A min-heap instead of a plain FIFO keeps far-future retries from starving
// items that are already due.
type delayQueue struct {
	mu   sync.Mutex
	h    itemHeap
	seq  uint64
	kick chan struct{}
}

type item struct {
	n   Notification
	seq uint64
}

func newDelayQueue() *delayQueue {
	return &delayQueue{kick: make(chan struct{}, 1)}
}

// Push appends a notification. It never blocks and never fails.
func (q *delayQueue) Push(n Notification) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, item{n: n, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head if it is due at now.
// Otherwise it returns (zero, false, wait) where wait is how long until the
// head becomes due, or 0 when the queue is empty.
func (q *delayQueue) Pop(now time.Time) (Notification, bool, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return Notification{}, false, 0
	}
	head := q.h[0]
	if head.n.NotBefore.After(now) {
		return Notification{}, false, head.n.NotBefore.Sub(now)
	}
	heap.Pop(&q.h)
	return head.n, true, 0
}

// UntilDue reports how long until the head item is due (0 when due now),
// and whether the queue holds any item at all. It never pops.
func (q *delayQueue) UntilDue(now time.Time) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return 0, false
	}
	if d := q.h[0].n.NotBefore.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

func (q *delayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Kick returns a channel signaled whenever an item is pushed, so the worker
// can re-evaluate its wait without polling tightly.
func (q *delayQueue) Kick() <-chan struct{} { return q.kick }

type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if !h[i].n.NotBefore.Equal(h[j].n.NotBefore) {
		return h[i].n.NotBefore.Before(h[j].n.NotBefore)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
