package notify

import "time"

// Category classifies a notification and picks its emoji prefix.
type Category string

const (
	CategoryOrder     Category = "order"
	CategoryPayment   Category = "payment"
	CategoryDelivery  Category = "delivery"
	CategoryPromotion Category = "promotion"
	CategoryReminder  Category = "reminder"
	CategoryInfo      Category = "info"
)

var categoryEmoji = map[Category]string{
	CategoryOrder:     "\U0001F4E6", // 📦
	CategoryPayment:   "\U0001F4B3", // 💳
	CategoryDelivery:  "\U0001F69A", // 🚚
	CategoryPromotion: "\U0001F381", // 🎁
	CategoryReminder:  "⏰",          // ⏰
	CategoryInfo:      "ℹ️",         // ℹ️
}

const defaultEmoji = "\U0001F4F1" // 📱

// Emoji returns the prefix for the category, falling back to a generic one.
func (c Category) Emoji() string {
	if e, ok := categoryEmoji[c]; ok {
		return e
	}
	return defaultEmoji
}

// Notification is a single recipient-scoped asynchronous message with retry
// state. Only the queue worker mutates Attempts and NotBefore.
type Notification struct {
	UserID      int64
	Title       string
	Body        string
	Category    Category
	NotBefore   time.Time
	Attempts    int
	MaxAttempts int
}

// Config controls the notification queue worker.
//
// The retry policy is deliberately flat: a failed send is retried after
// RetryDelay, up to MaxAttempts total attempts, then dropped. There is no
// exponential backoff and no persistence of queued items.
type Config struct {
	Enabled     bool
	MaxAttempts int           // default 3
	RetryDelay  time.Duration // default 5m
	IdleWait    time.Duration // sleep when the queue is empty; default 1s
	SendTimeout time.Duration // per send call; default 10s
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Minute
	}
	if c.IdleWait <= 0 {
		c.IdleWait = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Event is published on the event bus for notification lifecycle changes.
type Event struct {
	UserID   int64     `json:"user_id"`
	Category Category  `json:"category"`
	Title    string    `json:"title"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
