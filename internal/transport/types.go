package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event from the messaging platform.
//
// ID is the platform's monotonically increasing update id; the ingest loop
// uses it to advance its cursor.
type Update struct {
	ID       int64
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// DeliveryResult is the outcome of a single send attempt.
// RawError carries the platform's error text for logging; callers branch
// on OK only.
type DeliveryResult struct {
	OK       bool
	RawError string
}

// InlineButton is one button of an inline keyboard. URL buttons open a link;
// Data buttons produce a Callback with the given payload.
type InlineButton struct {
	Text string
	URL  string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// Inline keyboard rows (optional).
	Inline [][]InlineButton

	// Reply keyboard rows (optional). Mutually exclusive with Inline;
	// if both are set, Inline wins.
	Reply [][]string
}

// Client is the stateless wrapper around the messaging platform HTTP API.
//
// It never retries: retry policy belongs to the callers (notify queue,
// ingest loop). One invocation is one outbound HTTP call.
type Client interface {
	Send(ctx context.Context, recipient int64, text string, opt *SendOptions) DeliveryResult
	SendMedia(ctx context.Context, recipient int64, mediaRef, caption string, opt *SendOptions) DeliveryResult

	// Poll long-polls for updates starting at cursor. ok is false on any
	// transport failure; the returned slice is in platform order.
	Poll(ctx context.Context, cursor int64, timeout time.Duration) (updates []Update, ok bool)
}
