package ingest

import (
	"context"
	"runtime/debug"
	"time"

	rtsup "shopbot/internal/runtime/supervisor"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

// Handler processes one inbound update. Errors are logged at the per-update
// boundary and never affect sibling updates or the cursor.
type Handler interface {
	HandleMessage(ctx context.Context, m *kit.Message) error
	HandleCallback(ctx context.Context, cb *kit.Callback) error
}

// Config controls the long-poll loop.
//
// The failure policy is a deliberate crude breaker carried over from the
// source system: a short fixed delay per failure, and after BreakThreshold
// consecutive failures one long pause with the counter reset. It is not
// exponential backoff.
type Config struct {
	PollTimeout    time.Duration // long-poll timeout; default 30s
	ErrorDelay     time.Duration // delay after a poll failure; default 5s
	BreakThreshold int           // consecutive failures before the long pause; default 10
	BreakDelay     time.Duration // the long pause; default 60s
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = 5 * time.Second
	}
	if c.BreakThreshold <= 0 {
		c.BreakThreshold = 10
	}
	if c.BreakDelay <= 0 {
		c.BreakDelay = 60 * time.Second
	}
	return c
}

// Loop consumes updates from the platform with a monotonically advancing
// cursor. The cursor is owned exclusively by the loop and advances only
// after a batch has been fully processed, so a crash mid-batch redelivers
// that batch (at-least-once).
type Loop struct {
	cfg     Config
	log     logx.Logger
	client  kit.Client
	handler Handler

	cursor    int64
	errStreak int

	sup *rtsup.Supervisor

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration)
}

func New(cfg Config, client kit.Client, handler Handler, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:     cfg.withDefaults(),
		log:     log,
		client:  client,
		handler: handler,
		sleep:   sleepCtx,
	}
}

// Cursor returns the next update id the loop will ask for.
func (l *Loop) Cursor() int64 { return l.cursor }

// Start runs the loop until ctx is canceled. The current batch always
// finishes before the loop exits.
func (l *Loop) Start(ctx context.Context) {
	if l.sup != nil {
		return
	}
	l.sup = rtsup.New(ctx, rtsup.WithLogger(l.log), rtsup.WithCancelOnError(false))
	l.sup.GoRestart("ingest.poll", func(c context.Context) error {
		l.log.Info("polling started")
		for c.Err() == nil {
			l.PollOnce(c)
		}
		l.log.Info("polling stopped")
		return c.Err()
	}, rtsup.WithPublishFirstError(true))
}

// Stop waits for the current batch to finish, bounded by ctx.
func (l *Loop) Stop(ctx context.Context) {
	if l.sup == nil {
		return
	}
	l.sup.Cancel()
	_ = l.sup.Wait(ctx)
}

// PollOnce performs one poll/process iteration: a single long poll, full
// batch processing, then the cursor advance. Exported for tests.
func (l *Loop) PollOnce(ctx context.Context) {
	updates, ok := l.client.Poll(ctx, l.cursor, l.cfg.PollTimeout)
	if !ok {
		if ctx.Err() != nil {
			return
		}
		l.errStreak++
		if l.errStreak >= l.cfg.BreakThreshold {
			l.log.Warn("too many consecutive poll failures; backing off",
				logx.Int("failures", l.errStreak),
				logx.Duration("pause", l.cfg.BreakDelay))
			l.sleep(ctx, l.cfg.BreakDelay)
			l.errStreak = 0
		} else {
			l.sleep(ctx, l.cfg.ErrorDelay)
		}
		return
	}
	l.errStreak = 0
	if len(updates) == 0 {
		// The poll call itself blocks up to PollTimeout; loop immediately.
		return
	}

	// Process the whole batch before touching the cursor, in received order.
	// One bad update must not stop its siblings.
	maxID := l.cursor - 1
	for i := range updates {
		u := &updates[i]
		if u.ID > maxID {
			maxID = u.ID
		}
		l.dispatch(ctx, u)
	}
	l.cursor = maxID + 1
}

func (l *Loop) dispatch(ctx context.Context, u *kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("update handler panicked",
				logx.Int64("update_id", u.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	var err error
	switch u.Kind {
	case kit.UpdateMessage:
		if u.Message != nil {
			err = l.handler.HandleMessage(ctx, u.Message)
		}
	case kit.UpdateCallback:
		if u.Callback != nil {
			err = l.handler.HandleCallback(ctx, u.Callback)
		}
	default:
		// Unhandled update kinds still advance the cursor.
	}
	if err != nil {
		l.log.Error("update handler failed",
			logx.Int64("update_id", u.ID),
			logx.String("kind", string(u.Kind)),
			logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SetSleep overrides the backoff sleeper. Tests only.
func (l *Loop) SetSleep(fn func(ctx context.Context, d time.Duration)) { l.sleep = fn }
