package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shopbot/internal/store"
	logx "shopbot/pkg/logx"
)

const (
	defaultPruneSchedule = "30 3 * * *" // nightly, off-peak
	defaultPruneAfter    = 90 * 24 * time.Hour
)

type maintenanceCfg struct {
	Enabled    bool
	Schedule   string
	PruneAfter time.Duration
	Timezone   string
}

func (c maintenanceCfg) withDefaults() maintenanceCfg {
	if c.Schedule == "" {
		c.Schedule = defaultPruneSchedule
	}
	if c.PruneAfter <= 0 {
		c.PruneAfter = defaultPruneAfter
	}
	return c
}

// maintenance runs periodic cleanup of delivery history so the notifications
// and autopost tables do not grow without bound.
type maintenance struct {
	mu    sync.Mutex
	cfg   maintenanceCfg
	log   logx.Logger
	store store.Store

	parser cron.Parser
	c      *cron.Cron
}

func newMaintenance(cfg maintenanceCfg, st store.Store, log logx.Logger) *maintenance {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &maintenance{
		cfg:    cfg.withDefaults(),
		log:    log,
		store:  st,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (m *maintenance) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked()
}

func (m *maintenance) startLocked() {
	if !m.cfg.Enabled || m.c != nil {
		return
	}
	loc := time.Local
	if m.cfg.Timezone != "" {
		if l, err := time.LoadLocation(m.cfg.Timezone); err == nil {
			loc = l
		}
	}
	c := cron.New(cron.WithParser(m.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(m.cfg.Schedule, m.prune); err != nil {
		m.log.Warn("invalid maintenance schedule; cleanup disabled",
			logx.String("schedule", m.cfg.Schedule), logx.Err(err))
		return
	}
	c.Start()
	m.c = c
	m.log.Info("maintenance scheduled",
		logx.String("schedule", m.cfg.Schedule),
		logx.Duration("prune_after", m.cfg.PruneAfter))
}

func (m *maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *maintenance) stopLocked() {
	if m.c == nil {
		return
	}
	ctx := m.c.Stop()
	// Bounded wait for an in-flight prune.
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
	}
	m.c = nil
}

// Apply restarts the cron with new settings when they changed.
func (m *maintenance) Apply(cfg maintenanceCfg) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == m.cfg {
		return
	}
	m.cfg = cfg
	m.stopLocked()
	m.startLocked()
}

func (m *maintenance) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m.mu.Lock()
	after := m.cfg.PruneAfter
	m.mu.Unlock()

	n, err := m.store.PruneDeliveryHistory(ctx, time.Now().Add(-after))
	if err != nil {
		m.log.Warn("history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		m.log.Info("history pruned", logx.Int64("rows", n))
	}
}
