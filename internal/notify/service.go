package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shopbot/internal/eventbus"
	rtsup "shopbot/internal/runtime/supervisor"
	"shopbot/internal/store"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

// Service is the asynchronous notification pipeline: an unbounded in-memory
// queue drained by a single worker, delivering at-least-once with a flat
// retry delay and a hard attempt cap.
//
// Enqueue is safe for concurrent use from handler code; only the worker
// mutates queued items.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	client kit.Client
	bus    eventbus.Bus
	store  store.Store

	q   *delayQueue
	sup *rtsup.Supervisor

	// now is swappable so tests can drive due-time decisions directly.
	now func() time.Time
}

func New(cfg Config, client kit.Client, st store.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		client: client,
		bus:    bus,
		store:  st,
		q:      newDelayQueue(),
		now:    time.Now,
	}
}

// Apply updates retry/timing knobs at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Enqueue accepts a notification for asynchronous delivery. It never blocks
// and never fails; the queue is unbounded.
//
// A zero NotBefore means "due now"; a zero MaxAttempts takes the configured
// default.
func (s *Service) Enqueue(n Notification) {
	cfg := s.config()
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = cfg.MaxAttempts
	}
	if n.NotBefore.IsZero() {
		n.NotBefore = s.now()
	}
	s.q.Push(n)
	s.publish("notify.queued", n, "")
}

// QueueLen reports the number of queued (including not-yet-due) items.
func (s *Service) QueueLen() int { return s.q.Len() }

// Start launches the single queue worker. Idempotent per Service.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Worker failures are never fatal to the process.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("notify.worker", func(c context.Context) error {
		s.workerLoop(c)
		return c.Err()
	}, rtsup.WithPublishFirstError(true))
}

// Stop lets the worker finish its current item, then halts it.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}

func (s *Service) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !s.ProcessNext(ctx) {
			// Nothing due: wait for a new item, the head's due time, or the
			// idle interval, whichever comes first.
			wait := s.config().IdleWait
			if untilDue, ok := s.q.UntilDue(s.now()); ok && untilDue > 0 && untilDue < wait {
				wait = untilDue
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-s.q.Kick():
				t.Stop()
			case <-t.C:
			}
		}
	}
}

// ProcessNext delivers the head item if one is due. It reports whether an
// item was processed. Exported for tests driving the worker step by step.
func (s *Service) ProcessNext(ctx context.Context) bool {
	n, ok, _ := s.q.Pop(s.now())
	if !ok {
		return false
	}
	s.deliver(ctx, n)
	return true
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	cfg := s.config()

	// Resolve the delivery address. Unresolvable recipients are dropped
	// silently; that is a data problem, not a transport one.
	chatID, ok, err := s.store.ResolveRecipient(ctx, n.UserID)
	if err != nil {
		s.log.Warn("recipient lookup failed", logx.Int64("user_id", n.UserID), logx.Err(err))
		return
	}
	if !ok {
		s.log.Debug("recipient unresolved; dropping", logx.Int64("user_id", n.UserID))
		return
	}

	text := formatMessage(n)

	callCtx := ctx
	if callCtx == nil {
		callCtx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(callCtx, cfg.SendTimeout)
	res := s.client.Send(callCtx, chatID, text, &kit.SendOptions{ParseMode: "HTML"})
	cancel()

	if res.OK {
		if err := s.store.RecordNotification(ctx, store.NotificationRecord{
			UserID:   n.UserID,
			Title:    n.Title,
			Body:     n.Body,
			Category: string(n.Category),
			SentAt:   s.now(),
		}); err != nil {
			s.log.Warn("notification record failed", logx.Err(err))
		}
		s.publish("notify.sent", n, "")
		return
	}

	n.Attempts++
	if n.Attempts < n.MaxAttempts {
		n.NotBefore = s.now().Add(cfg.RetryDelay)
		s.q.Push(n)
		s.log.Debug("send failed; retrying",
			logx.Int64("user_id", n.UserID),
			logx.Int("attempt", n.Attempts),
			logx.Int("max", n.MaxAttempts),
			logx.String("err", res.RawError))
		return
	}

	// Retries exhausted: drop with a permanent-failure event. Never surfaced
	// to the end user.
	s.log.Warn("notification dropped after max attempts",
		logx.Int64("user_id", n.UserID),
		logx.String("category", string(n.Category)),
		logx.Int("attempts", n.Attempts),
		logx.String("err", res.RawError))
	s.publish("notify.failed", n, res.RawError)
}

func (s *Service) publish(typ string, n Notification, errText string) {
	if s.bus == nil {
		return
	}
	now := s.now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: Event{
		UserID:   n.UserID,
		Category: n.Category,
		Title:    n.Title,
		Attempts: n.Attempts,
		At:       now,
		Error:    errText,
	}})
}

func formatMessage(n Notification) string {
	return fmt.Sprintf("%s <b>%s</b>\n\n%s", n.Category.Emoji(), n.Title, n.Body)
}

// SetNow overrides the service clock. Tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }
