// Package app assembles the delivery core: config, logging, storage,
// transport, the notification queue, the broadcast dispatcher, the autopost
// trigger, and the update ingestion loop.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopbot/internal/autopost"
	"shopbot/internal/bot"
	"shopbot/internal/broadcast"
	"shopbot/internal/config"
	"shopbot/internal/eventbus"
	"shopbot/internal/ingest"
	"shopbot/internal/notify"
	rtsup "shopbot/internal/runtime/supervisor"
	"shopbot/internal/store"
	"shopbot/internal/transport/telegram"
	logx "shopbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus    eventbus.Bus
	store  store.Store
	client *telegram.Client

	notify     *notify.Service
	dispatcher *broadcast.Dispatcher
	trigger    *autopost.Trigger
	handlers   *bot.Handlers
	loop       *ingest.Loop
	maint      *maintenance

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return validate(c)
	})
	if err := validate(cfg); err != nil {
		return nil, err
	}

	httpTimeout, _ := config.ParseDurationOrDefault("telegram.http_timeout", cfg.Telegram.HTTPTimeout, 50*time.Second)
	client, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		HTTPTimeout: httpTimeout,
	}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}

	st, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: mustDuration(cfg.Store.BusyTimeout),
	}, log.With(logx.String("svc", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    bus,
		store:  st,
		client: client,
	}

	a.notify = notify.New(notifyConfig(cfg), client, st, log.With(logx.String("svc", "notify")), bus)
	a.dispatcher = broadcast.New(broadcastConfig(cfg), client, st, log.With(logx.String("svc", "broadcast")), bus)
	a.trigger = autopost.New(autopostConfig(cfg), st, a.dispatcher, log.With(logx.String("svc", "autopost")), bus)
	a.handlers = bot.New(bot.Config{Owners: cfg.Telegram.OwnerUserIDs},
		client, st, a.notify, a.dispatcher, log.With(logx.String("svc", "bot")))
	a.loop = ingest.New(ingestConfig(cfg), client, a.handlers, log.With(logx.String("svc", "ingest")))
	a.maint = newMaintenance(maintenanceConfig(cfg), st, log.With(logx.String("svc", "maintenance")))
	return a, nil
}

// Bus exposes the in-process event stream (diagnostics, tests).
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	a.notify.Start(a.sup.Context())
	a.trigger.Start(a.sup.Context())
	a.loop.Start(a.sup.Context())
	a.maint.Start()

	a.sup.Go0("config.watch", func(c context.Context) {
		_ = a.cfgMgr.Watch(c)
	})
	a.sup.Go0("config.reload", func(c context.Context) {
		a.reloadLoop(c)
	})

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Stop intake first so nothing new is queued while workers drain.
	a.loop.Stop(ctx)
	a.trigger.Stop(ctx)
	a.notify.Stop(ctx)
	a.maint.Stop()

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	err := a.store.Close()
	a.log.Info("stopped")
	return err
}

// reloadLoop applies config updates to the running services. Transport and
// store settings need a restart; everything else is applied live.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(ch)

	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			prev = cfg
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig(cfg.Logging.File),
			})
			a.notify.Apply(notifyConfig(cfg))
			a.dispatcher.Apply(broadcastConfig(cfg))
			a.maint.Apply(maintenanceConfig(cfg))

			for _, section := range changed {
				if section == "telegram" || section == "store" || section == "autopost" {
					a.log.Warn("section change requires restart", logx.String("section", section))
				}
			}
		}
	}
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	durations := map[string]string{
		"telegram.poll_timeout":   cfg.Telegram.PollTimeout,
		"telegram.http_timeout":   cfg.Telegram.HTTPTimeout,
		"store.busy_timeout":      cfg.Store.BusyTimeout,
		"broadcast.throttle":      cfg.Broadcast.Throttle,
		"broadcast.active_window": cfg.Broadcast.ActiveWindow,
		"broadcast.send_timeout":  cfg.Broadcast.SendTimeout,
		"autopost.tick":           cfg.Autopost.Tick,
		"autopost.card_pause":     cfg.Autopost.CardPause,
		"maintenance.prune_after": cfg.Maintenance.PruneAfter,
	}
	if cfg.Notify != nil {
		durations["notify.retry_delay"] = cfg.Notify.RetryDelay
		durations["notify.send_timeout"] = cfg.Notify.SendTimeout
	}
	for path, raw := range durations {
		if _, err := config.ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func mustDuration(raw string) time.Duration {
	d, _ := config.ParseDurationField("", raw)
	return d
}

func notifyConfig(cfg *config.Config) notify.Config {
	out := notify.Config{Enabled: true}
	n := cfg.Notify
	if n == nil {
		return out
	}
	if n.Enabled != nil {
		out.Enabled = *n.Enabled
	}
	out.MaxAttempts = n.MaxAttempts
	out.RetryDelay = mustDuration(n.RetryDelay)
	out.SendTimeout = mustDuration(n.SendTimeout)
	return out
}

func broadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Throttle:     mustDuration(cfg.Broadcast.Throttle),
		ActiveWindow: mustDuration(cfg.Broadcast.ActiveWindow),
		SendTimeout:  mustDuration(cfg.Broadcast.SendTimeout),
	}
}

func autopostConfig(cfg *config.Config) autopost.Config {
	return autopost.Config{
		Enabled:      cfg.Autopost.Enabled,
		Timezone:     cfg.Autopost.Timezone,
		TickInterval: mustDuration(cfg.Autopost.Tick),
		CardPause:    mustDuration(cfg.Autopost.CardPause),
	}
}

func ingestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		PollTimeout: mustDuration(cfg.Telegram.PollTimeout),
	}
}

func maintenanceConfig(cfg *config.Config) maintenanceCfg {
	return maintenanceCfg{
		Enabled:    cfg.Maintenance.Enabled,
		Schedule:   cfg.Maintenance.Schedule,
		PruneAfter: mustDuration(cfg.Maintenance.PruneAfter),
		Timezone:   cfg.Autopost.Timezone,
	}
}
