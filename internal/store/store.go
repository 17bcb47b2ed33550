package store

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("store disabled")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type User struct {
	ID        int64
	ChatID    int64 // telegram chat id ("delivery address")
	Name      string
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}

// UserFilter selects broadcast recipients.
//
// ExcludeAdmins drops staff accounts; ActiveSince (when non-zero) keeps only
// users with at least one order at or after the given time.
type UserFilter struct {
	ExcludeAdmins bool
	ActiveSince   time.Time
}

type Product struct {
	ID       int64
	Name     string
	Price    float64
	ImageURL string
	Views    int64
	Sales    int64
}

// PostTemplate is a reusable scheduled post: body text plus up to three
// trigger times of day and a target audience. Rows are edited by the admin
// panel; the autopost trigger re-reads them every evaluation tick.
type PostTemplate struct {
	ID       int64
	Title    string
	Body     string
	ImageURL string
	Times    []string // "HH:MM", zero to three entries
	Audience string   // "all" | "active" | "segment:<name>"
	Active   bool
}

// NotificationRecord is one successfully delivered notification.
type NotificationRecord struct {
	UserID   int64
	Title    string
	Body     string
	Category string
	SentAt   time.Time
}

// AutopostStat records one trigger firing for observability.
type AutopostStat struct {
	TemplateID int64
	Sent       int
	Errors     int
	FiredAt    time.Time
}

// Store is the persistence API the delivery core depends on.
//
// The queue/worker state itself is never persisted; these calls cover
// recipient resolution, audience listing, and delivery history.
type Store interface {
	UpsertUser(ctx context.Context, u User) (int64, error)
	ResolveRecipient(ctx context.Context, userID int64) (chatID int64, ok bool, err error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)

	CreateOrder(ctx context.Context, userID int64, total float64) (int64, error)

	TopPopularProducts(ctx context.Context, limit int) ([]Product, error)

	ListActiveTemplates(ctx context.Context) ([]PostTemplate, error)

	RecordNotification(ctx context.Context, r NotificationRecord) error
	RecordAutopostStat(ctx context.Context, s AutopostStat) error
	PruneDeliveryHistory(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
