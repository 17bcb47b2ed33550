// Package bot is the thin command surface on top of the delivery core. It
// consumes decoded updates from the ingestion loop and turns them into store
// writes, queued notifications, and owner-initiated broadcasts.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"shopbot/internal/broadcast"
	"shopbot/internal/notify"
	"shopbot/internal/store"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

// Config for the handler surface.
type Config struct {
	// Owners may use administrative commands such as /broadcast.
	Owners []int64
}

type Handlers struct {
	cfg        Config
	log        logx.Logger
	client     transport.Client
	store      store.Store
	notify     *notify.Service
	dispatcher *broadcast.Dispatcher
}

func New(cfg Config, client transport.Client, st store.Store, n *notify.Service, d *broadcast.Dispatcher, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		cfg:        cfg,
		log:        log,
		client:     client,
		store:      st,
		notify:     n,
		dispatcher: d,
	}
}

func (h *Handlers) isOwner(userID int64) bool {
	for _, id := range h.cfg.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// HandleMessage routes one inbound message. Errors are logged and swallowed;
// a failing handler must never stall the ingestion loop.
func (h *Handlers) HandleMessage(ctx context.Context, m *transport.Message) error {
	text := strings.TrimSpace(m.Text)
	cmd, args := splitCommand(text)

	switch cmd {
	case "/start":
		return h.handleStart(ctx, m)
	case "/help":
		return h.reply(ctx, m.ChatID, helpText(h.isOwner(m.FromID)))
	case "/popular":
		return h.handlePopular(ctx, m)
	case "/broadcast":
		return h.handleBroadcast(ctx, m, args)
	default:
		if strings.HasPrefix(cmd, "/") {
			return h.reply(ctx, m.ChatID, "Unknown command. Try /help.")
		}
		return nil
	}
}

// HandleCallback routes one inline-button press.
func (h *Handlers) HandleCallback(ctx context.Context, c *transport.Callback) error {
	action, arg, _ := strings.Cut(c.Data, ":")
	switch action {
	case "buy":
		return h.handleBuy(ctx, c, arg)
	default:
		h.log.Debug("unhandled callback", logx.String("data", c.Data))
		return nil
	}
}

func (h *Handlers) handleStart(ctx context.Context, m *transport.Message) error {
	userID, err := h.store.UpsertUser(ctx, store.User{
		ID:       m.FromID,
		ChatID:   m.ChatID,
		Username: m.FromUsername,
	})
	if err != nil {
		h.log.Warn("user registration failed", logx.Int64("from", m.FromID), logx.Err(err))
		return h.reply(ctx, m.ChatID, "Something went wrong, please try again later.")
	}
	h.log.Info("user registered", logx.Int64("user_id", userID))

	h.notify.Enqueue(notify.Notification{
		UserID:   userID,
		Title:    "Welcome!",
		Body:     "Thanks for joining. Use /popular to see what everyone is buying, or /help for the full command list.",
		Category: notify.CategoryInfo,
	})
	return h.reply(ctx, m.ChatID,
		"\U0001F44B Welcome to the shop!\n\nUse /popular to browse bestsellers or /help for all commands.")
}

func (h *Handlers) handlePopular(ctx context.Context, m *transport.Message) error {
	products, err := h.store.TopPopularProducts(ctx, 3)
	if err != nil {
		h.log.Warn("popular products lookup failed", logx.Err(err))
		return h.reply(ctx, m.ChatID, "Catalog is unavailable right now, please try again later.")
	}
	if len(products) == 0 {
		return h.reply(ctx, m.ChatID, "The catalog is empty for now. Check back soon!")
	}
	for _, p := range products {
		text := fmt.Sprintf("\U0001F6CD <b>%s</b>\n\n\U0001F4B0 Price: <b>$%.2f</b>", p.Name, p.Price)
		opt := &transport.SendOptions{
			ParseMode: "HTML",
			Inline: [][]transport.InlineButton{{
				{Text: "\U0001F6D2 Buy", Data: fmt.Sprintf("buy:%d", p.ID)},
			}},
		}
		var res transport.DeliveryResult
		if p.ImageURL != "" {
			res = h.client.SendMedia(ctx, m.ChatID, p.ImageURL, text, opt)
		} else {
			res = h.client.Send(ctx, m.ChatID, text, opt)
		}
		if !res.OK {
			h.log.Debug("product card send failed",
				logx.Int64("chat", m.ChatID),
				logx.String("error", res.RawError))
		}
	}
	return nil
}

func (h *Handlers) handleBuy(ctx context.Context, c *transport.Callback, arg string) error {
	productID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		h.log.Debug("malformed buy callback", logx.String("data", c.Data))
		return nil
	}
	products, err := h.store.TopPopularProducts(ctx, 50)
	if err != nil {
		return err
	}
	var product *store.Product
	for i := range products {
		if products[i].ID == productID {
			product = &products[i]
			break
		}
	}
	if product == nil {
		return h.reply(ctx, c.ChatID, "That item is no longer available.")
	}

	userID, err := h.store.UpsertUser(ctx, store.User{ID: c.FromID, ChatID: c.ChatID})
	if err != nil {
		return err
	}
	orderID, err := h.store.CreateOrder(ctx, userID, product.Price)
	if err != nil {
		h.log.Warn("order create failed", logx.Int64("user_id", userID), logx.Err(err))
		return h.reply(ctx, c.ChatID, "Could not place the order, please try again.")
	}
	h.NotifyOrderCreated(orderID, userID, product.Name, product.Price)
	return nil
}

func (h *Handlers) handleBroadcast(ctx context.Context, m *transport.Message, args string) error {
	if !h.isOwner(m.FromID) {
		return h.reply(ctx, m.ChatID, "This command is restricted.")
	}
	audienceArg, text, ok := strings.Cut(args, " ")
	if !ok || strings.TrimSpace(text) == "" {
		return h.reply(ctx, m.ChatID, "Usage: /broadcast <all|active|segment:name> <text>")
	}
	aud, err := broadcast.ParseAudience(audienceArg)
	if err != nil {
		return h.reply(ctx, m.ChatID, "Unknown audience: "+audienceArg)
	}

	res, err := h.dispatcher.Dispatch(ctx, broadcast.Post{Text: strings.TrimSpace(text)}, aud)
	if err != nil {
		return err
	}
	return h.reply(ctx, m.ChatID,
		fmt.Sprintf("Broadcast finished: %d delivered, %d failed.", res.Success, res.Errors))
}

// NotifyOrderCreated queues the order confirmation. Attempted delivery happens
// on the notification worker, never inline with the triggering update.
func (h *Handlers) NotifyOrderCreated(orderID, userID int64, productName string, total float64) {
	h.notify.Enqueue(notify.Notification{
		UserID:   userID,
		Title:    fmt.Sprintf("Order #%d confirmed", orderID),
		Body:     fmt.Sprintf("%s for $%.2f is on its way to processing. We will keep you posted.", productName, total),
		Category: notify.CategoryOrder,
	})
}

// NotifyOrderStatus queues a status-change notification for an existing order.
func (h *Handlers) NotifyOrderStatus(orderID, userID int64, status string) {
	category := notify.CategoryOrder
	if status == "shipped" || status == "delivered" {
		category = notify.CategoryDelivery
	}
	h.notify.Enqueue(notify.Notification{
		UserID:   userID,
		Title:    fmt.Sprintf("Order #%d update", orderID),
		Body:     fmt.Sprintf("Your order status changed to: %s.", status),
		Category: category,
	})
}

func (h *Handlers) reply(ctx context.Context, chatID int64, text string) error {
	res := h.client.Send(ctx, chatID, text, &transport.SendOptions{ParseMode: "HTML"})
	if !res.OK {
		h.log.Debug("reply send failed", logx.Int64("chat", chatID), logx.String("error", res.RawError))
	}
	return nil
}

func splitCommand(text string) (cmd, args string) {
	cmd, args, _ = strings.Cut(text, " ")
	// Strip the @botname suffix Telegram appends in group chats.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, strings.TrimSpace(args)
}

func helpText(owner bool) string {
	b := "\U0001F4D6 <b>Commands</b>\n\n" +
		"/start - register and get started\n" +
		"/popular - bestsellers right now\n" +
		"/help - this message"
	if owner {
		b += "\n\n<b>Owner</b>\n/broadcast &lt;all|active|segment:name&gt; &lt;text&gt;"
	}
	return b
}
