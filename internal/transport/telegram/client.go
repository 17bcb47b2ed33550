package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type Config struct {
	Token string

	// HTTPTimeout bounds every API call including long polls; it must exceed
	// the poll timeout passed to Poll. Default 50s.
	HTTPTimeout time.Duration
}

// Client implements kit.Client on top of the Telegram Bot API.
//
// It is stateless apart from the credential: no retries, no queues, no
// cursor. Sends are driven through telebot; the long poll goes through
// telebot's Raw call so the ingest loop owns the update offset itself
// (telebot's built-in poller would hide it).
type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 50 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.HTTPTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

func (c *Client) Send(ctx context.Context, recipient int64, text string, opt *kit.SendOptions) kit.DeliveryResult {
	if err := ctxErr(ctx); err != nil {
		return kit.DeliveryResult{RawError: err.Error()}
	}
	_, err := c.bot.Send(&tele.Chat{ID: recipient}, text, sendOptions(opt))
	return toResult(err)
}

func (c *Client) SendMedia(ctx context.Context, recipient int64, mediaRef, caption string, opt *kit.SendOptions) kit.DeliveryResult {
	if err := ctxErr(ctx); err != nil {
		return kit.DeliveryResult{RawError: err.Error()}
	}
	photo := &tele.Photo{File: tele.FromURL(mediaRef), Caption: caption}
	_, err := c.bot.Send(&tele.Chat{ID: recipient}, photo, sendOptions(opt))
	return toResult(err)
}

func (c *Client) Poll(ctx context.Context, cursor int64, timeout time.Duration) ([]kit.Update, bool) {
	if err := ctxErr(ctx); err != nil {
		return nil, false
	}
	secs := int(timeout / time.Second)
	if secs < 0 {
		secs = 0
	}
	params := map[string]any{
		"offset":          cursor,
		"timeout":         secs,
		"allowed_updates": []string{"message", "callback_query"},
	}
	raw, err := c.bot.Raw("getUpdates", params)
	if err != nil {
		c.log.Debug("getUpdates failed", logx.Err(err))
		return nil, false
	}

	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.log.Warn("getUpdates decode failed", logx.Err(err))
		return nil, false
	}

	out := make([]kit.Update, 0, len(resp.Result))
	for _, u := range resp.Result {
		if mapped, ok := mapUpdate(u); ok {
			out = append(out, mapped)
		}
	}
	return out, true
}

func mapUpdate(u tele.Update) (kit.Update, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.Sender == nil || m.Chat == nil {
			// Keep the id so the cursor still advances past it.
			return kit.Update{ID: int64(u.ID)}, true
		}
		return kit.Update{
			ID:   int64(u.ID),
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
			},
		}, true
	case u.Callback != nil:
		cb := u.Callback
		if cb.Sender == nil || cb.Message == nil || cb.Message.Chat == nil {
			return kit.Update{ID: int64(u.ID)}, true
		}
		return kit.Update{
			ID:   int64(u.ID),
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				FromID:    cb.Sender.ID,
				ChatID:    cb.Message.Chat.ID,
				MessageID: cb.Message.ID,
				Data:      cb.Data,
			},
		}, true
	default:
		// Update kinds the delivery core doesn't consume still advance the
		// cursor; the ingest loop only needs the id for that.
		return kit.Update{ID: int64(u.ID)}, true
	}
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	out := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm := replyMarkup(opt); rm != nil {
		out.ReplyMarkup = rm
	}
	return out
}

func replyMarkup(opt *kit.SendOptions) *tele.ReplyMarkup {
	switch {
	case len(opt.Inline) > 0:
		rm := &tele.ReplyMarkup{}
		rows := make([][]tele.InlineButton, 0, len(opt.Inline))
		for _, row := range opt.Inline {
			btns := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tele.InlineButton{Text: b.Text, URL: b.URL, Data: b.Data})
			}
			rows = append(rows, btns)
		}
		rm.InlineKeyboard = rows
		return rm
	case len(opt.Reply) > 0:
		rm := &tele.ReplyMarkup{ResizeKeyboard: true}
		rows := make([][]tele.ReplyButton, 0, len(opt.Reply))
		for _, row := range opt.Reply {
			btns := make([]tele.ReplyButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tele.ReplyButton{Text: b})
			}
			rows = append(rows, btns)
		}
		rm.ReplyKeyboard = rows
		return rm
	default:
		return nil
	}
}

func toResult(err error) kit.DeliveryResult {
	if err != nil {
		return kit.DeliveryResult{RawError: err.Error()}
	}
	return kit.DeliveryResult{OK: true}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
