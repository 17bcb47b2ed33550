package autopost

import (
	"context"
	"fmt"
	"time"

	"shopbot/internal/broadcast"
	"shopbot/internal/eventbus"
	rtsup "shopbot/internal/runtime/supervisor"
	"shopbot/internal/store"
	logx "shopbot/pkg/logx"
)

// Config controls the scheduled-content trigger.
type Config struct {
	Enabled      bool
	TickInterval time.Duration // evaluation resolution; default 30s
	Timezone     string        // IANA TZ; default local
	CardLimit    int           // popular-item follow-ups per fire; default 3
	CardPause    time.Duration // pause between item cards; default 2s
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.CardLimit <= 0 {
		c.CardLimit = 3
	}
	if c.CardPause <= 0 {
		c.CardPause = 2 * time.Second
	}
	return c
}

// FireRecord is published on the event bus after each trigger firing.
type FireRecord struct {
	TemplateID int64     `json:"template_id"`
	Title      string    `json:"title"`
	Sent       int       `json:"sent"`
	Errors     int       `json:"errors"`
	FiredAt    time.Time `json:"fired_at"`
}

// Trigger fires scheduled post templates at their configured times of day.
//
// Templates are re-read from the store on every tick, so admin-panel edits
// are picked up without any invalidation signal. Matching is exact-minute: a
// tick missed because of clock drift or a process pause silently skips that
// day's firing, it is not caught up.
type Trigger struct {
	cfg Config
	loc *time.Location

	log        logx.Logger
	store      store.Store
	dispatcher *broadcast.Dispatcher
	bus        eventbus.Bus

	// fired maps "templateID/HH:MM" to the date it last fired, keeping each
	// trigger time to one firing per day.
	fired map[string]string

	sup *rtsup.Supervisor

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration)
}

func New(cfg Config, st store.Store, d *broadcast.Dispatcher, log logx.Logger, bus eventbus.Bus) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	loc := time.Local
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; using local", logx.String("tz", cfg.Timezone), logx.Err(err))
		}
	}
	return &Trigger{
		cfg:        cfg,
		loc:        loc,
		log:        log,
		store:      st,
		dispatcher: d,
		bus:        bus,
		fired:      map[string]string{},
		now:        time.Now,
		pause:      sleepCtx,
	}
}

// Start runs the evaluation loop until ctx is canceled.
func (t *Trigger) Start(ctx context.Context) {
	if !t.cfg.Enabled || t.sup != nil {
		return
	}
	t.sup = rtsup.New(ctx, rtsup.WithLogger(t.log), rtsup.WithCancelOnError(false))
	t.sup.GoRestart("autopost.tick", func(c context.Context) error {
		ticker := time.NewTicker(t.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return c.Err()
			case <-ticker.C:
				t.EvaluateTick(c)
			}
		}
	}, rtsup.WithPublishFirstError(true))
}

func (t *Trigger) Stop(ctx context.Context) {
	if t.sup == nil {
		return
	}
	t.sup.Cancel()
	_ = t.sup.Wait(ctx)
}

// EvaluateTick checks every active template against the current HH:MM and
// fires matches that have not fired today. Exported for tests.
func (t *Trigger) EvaluateTick(ctx context.Context) {
	templates, err := t.store.ListActiveTemplates(ctx)
	if err != nil {
		t.log.Warn("template load failed", logx.Err(err))
		return
	}

	now := t.now().In(t.loc)
	hhmm := now.Format("15:04")
	today := now.Format("2006-01-02")

	for _, tpl := range templates {
		for _, at := range tpl.Times {
			if at != hhmm {
				continue
			}
			key := fmt.Sprintf("%d/%s", tpl.ID, at)
			if t.fired[key] == today {
				continue
			}
			// Mark fired before dispatching so a slow or failing dispatch
			// cannot double-fire within the same tick window.
			t.fired[key] = today
			t.fire(ctx, tpl, now)
		}
	}
}

func (t *Trigger) fire(ctx context.Context, tpl store.PostTemplate, now time.Time) {
	aud, err := broadcast.ParseAudience(tpl.Audience)
	if err != nil {
		// Malformed template: log at the point of use, skip this firing.
		t.log.Warn("scheduled post misconfigured",
			logx.Int64("template_id", tpl.ID),
			logx.String("title", tpl.Title),
			logx.Err(err))
		return
	}

	t.log.Info("scheduled post firing",
		logx.Int64("template_id", tpl.ID),
		logx.String("title", tpl.Title),
		logx.String("audience", tpl.Audience))

	res, err := t.dispatcher.Dispatch(ctx, broadcast.Post{
		Text:     formatPost(tpl),
		ImageRef: tpl.ImageURL,
	}, aud)
	if err != nil {
		t.log.Warn("scheduled post dispatch failed", logx.Int64("template_id", tpl.ID), logx.Err(err))
	}

	sent, errs := res.Success, res.Errors

	// Popular-item follow-ups: separate sends to the same audience with a
	// short pause between cards.
	products, perr := t.store.TopPopularProducts(ctx, t.cfg.CardLimit)
	if perr != nil {
		t.log.Warn("popular products lookup failed", logx.Err(perr))
	}
	for _, p := range products {
		t.pause(ctx, t.cfg.CardPause)
		if ctx.Err() != nil {
			break
		}
		cres, cerr := t.dispatcher.Dispatch(ctx, broadcast.Post{
			Text:     formatProductCard(p),
			ImageRef: p.ImageURL,
		}, aud)
		if cerr != nil {
			t.log.Warn("product card dispatch failed", logx.Int64("product_id", p.ID), logx.Err(cerr))
			continue
		}
		sent += cres.Success
		errs += cres.Errors
	}

	if err := t.store.RecordAutopostStat(ctx, store.AutopostStat{
		TemplateID: tpl.ID,
		Sent:       sent,
		Errors:     errs,
		FiredAt:    now,
	}); err != nil {
		t.log.Warn("autopost stat record failed", logx.Err(err))
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: "autopost.fired", Data: FireRecord{
			TemplateID: tpl.ID,
			Title:      tpl.Title,
			Sent:       sent,
			Errors:     errs,
			FiredAt:    now,
		}})
	}
}

func formatPost(tpl store.PostTemplate) string {
	return fmt.Sprintf("\U0001F4E2 <b>%s</b>\n\n%s\n\n\U0001F6CD Open the catalog: /start", tpl.Title, tpl.Body)
}

func formatProductCard(p store.Product) string {
	return fmt.Sprintf(
		"\U0001F6CD <b>%s</b>\n\n"+
			"\U0001F4B0 Price: <b>$%.2f</b>\n"+
			"\U0001F441 Views: %d\n"+
			"\U0001F6D2 Sold: %d\n\n"+
			"\U0001F525 Popular pick from our catalog!",
		p.Name, p.Price, p.Views, p.Sales,
	)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
	case <-tm.C:
	}
}

// SetNow overrides the trigger clock. Tests only.
func (t *Trigger) SetNow(now func() time.Time) { t.now = now }

// SetPause overrides the inter-card pause. Tests only.
func (t *Trigger) SetPause(fn func(ctx context.Context, d time.Duration)) { t.pause = fn }
