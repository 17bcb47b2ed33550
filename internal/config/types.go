package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Notify    *NotifyConfig   `json:"notify,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Autopost  AutopostConfig  `json:"autopost,omitempty"`

	// Maintenance controls background cleanup of delivery history.
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "30s") for long-poll requests.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// HTTPTimeout bounds one API round trip; keep it above poll_timeout.
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StoreConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// NotifyConfig controls the async notification queue.
//
// All durations are Go duration strings (e.g. "500ms", "5m"). If the whole
// section is omitted the queue defaults to enabled=true.
type NotifyConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	RetryDelay  string `json:"retry_delay,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type BroadcastConfig struct {
	// Throttle is the pause between consecutive recipient sends.
	Throttle string `json:"throttle,omitempty"`
	// ActiveWindow bounds the "active" audience: users with an order no older
	// than this.
	ActiveWindow string `json:"active_window,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
}

type AutopostConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone used for HH:MM matching (IANA name, e.g. "Europe/Berlin").
	// Empty means the host timezone.
	Timezone  string `json:"timezone,omitempty"`
	Tick      string `json:"tick,omitempty"`       // Go duration string
	CardPause string `json:"card_pause,omitempty"` // pause between item cards
}

type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression; defaults to nightly at 03:30.
	Schedule string `json:"schedule,omitempty"`
	// PruneAfter drops notification and autopost history older than this.
	PruneAfter string `json:"prune_after,omitempty"` // Go duration string
}
