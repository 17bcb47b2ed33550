package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shopbot/internal/eventbus"
	"shopbot/internal/store"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

// Dispatcher fans a single message out to a resolved recipient list,
// strictly serially, with a fixed inter-send throttle.
//
// The recipient list is resolved once at dispatch time and is immutable for
// that run: users added mid-broadcast are not included. There is no partial
// progress reporting and no resumption; a killed broadcast is simply
// re-dispatched from scratch by the caller.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	client kit.Client
	store  store.Store
	bus    eventbus.Bus

	limiter *rate.Limiter

	segMu    sync.RWMutex
	segments map[string]func(store.User) bool
}

func New(cfg Config, client kit.Client, st store.Store, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:      log,
		client:   client,
		store:    st,
		bus:      bus,
		segments: map[string]func(store.User) bool{},
	}
	d.Apply(cfg)
	return d
}

// Apply updates the throttle at runtime (config hot reload).
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Every(cfg.Throttle), 1)
	d.mu.Unlock()
}

// RegisterSegment installs a named recipient predicate for
// "segment:<name>" audiences. Predicates run over non-admin users.
func (d *Dispatcher) RegisterSegment(name string, pred func(store.User) bool) {
	d.segMu.Lock()
	d.segments[name] = pred
	d.segMu.Unlock()
}

// ParseAudience parses "all", "active", or "segment:<name>".
func ParseAudience(s string) (Audience, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == string(AudienceAll):
		return Audience{Kind: AudienceAll}, nil
	case s == string(AudienceActive):
		return Audience{Kind: AudienceActive}, nil
	case strings.HasPrefix(s, "segment:"):
		name := strings.TrimSpace(strings.TrimPrefix(s, "segment:"))
		if name == "" {
			return Audience{}, fmt.Errorf("empty segment name in audience %q", s)
		}
		return Audience{Kind: AudienceSegment, Segment: name}, nil
	default:
		return Audience{}, fmt.Errorf("unknown audience %q", s)
	}
}

// Dispatch resolves the audience and sends the post to every recipient.
//
// A recipient without a stored delivery address counts as an error without a
// send attempt. Success+Errors always equals the resolved recipient count.
func (d *Dispatcher) Dispatch(ctx context.Context, post Post, aud Audience) (Result, error) {
	recipients, err := d.resolve(ctx, aud)
	if err != nil {
		return Result{}, err
	}
	if len(recipients) == 0 {
		return Result{}, nil
	}

	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	var res Result
	for _, u := range recipients {
		if u.ChatID == 0 {
			res.Errors++
			continue
		}
		if err := lim.Wait(ctx); err != nil {
			// Shutdown mid-broadcast: remaining recipients are simply not
			// reached this run.
			d.log.Debug("broadcast interrupted", logx.Err(err))
			break
		}
		if d.sendOne(ctx, cfg, u.ChatID, post) {
			res.Success++
		} else {
			res.Errors++
		}
	}

	d.log.Info("broadcast finished",
		logx.String("audience", audienceString(aud)),
		logx.Int("recipients", len(recipients)),
		logx.Int("success", res.Success),
		logx.Int("errors", res.Errors))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: "broadcast.done", Data: res})
	}
	return res, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, cfg Config, chatID int64, post Post) bool {
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	opt := &kit.SendOptions{ParseMode: "HTML"}
	var res kit.DeliveryResult
	if post.ImageRef != "" {
		res = d.client.SendMedia(callCtx, chatID, post.ImageRef, post.Text, opt)
	} else {
		res = d.client.Send(callCtx, chatID, post.Text, opt)
	}
	if !res.OK {
		d.log.Debug("broadcast send failed",
			logx.Int64("chat_id", chatID),
			logx.String("err", res.RawError))
	}
	return res.OK
}

func (d *Dispatcher) resolve(ctx context.Context, aud Audience) ([]store.User, error) {
	d.mu.Lock()
	window := d.cfg.ActiveWindow
	d.mu.Unlock()

	switch aud.Kind {
	case AudienceAll:
		return d.store.ListUsers(ctx, store.UserFilter{ExcludeAdmins: true})
	case AudienceActive:
		return d.store.ListUsers(ctx, store.UserFilter{
			ExcludeAdmins: true,
			ActiveSince:   time.Now().Add(-window),
		})
	case AudienceSegment:
		d.segMu.RLock()
		pred := d.segments[aud.Segment]
		d.segMu.RUnlock()
		if pred == nil {
			d.log.Warn("unknown broadcast segment", logx.String("segment", aud.Segment))
			return nil, nil
		}
		users, err := d.store.ListUsers(ctx, store.UserFilter{ExcludeAdmins: true})
		if err != nil {
			return nil, err
		}
		out := users[:0]
		for _, u := range users {
			if pred(u) {
				out = append(out, u)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown audience kind %q", aud.Kind)
	}
}

func audienceString(a Audience) string {
	if a.Kind == AudienceSegment {
		return "segment:" + a.Segment
	}
	return string(a.Kind)
}
