package config

import (
	"reflect"
	"sort"
	"strings"

	logx "shopbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. The bot token is never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.HTTPTimeout) != strings.TrimSpace(newCfg.Telegram.HTTPTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
			logx.String("store.busy_timeout", strings.TrimSpace(newCfg.Store.BusyTimeout)),
		)
	}

	// Notify section may be omitted entirely; nil means runtime defaults.
	oN, nN := derefNotify(oldCfg.Notify), derefNotify(newCfg.Notify)
	if (oldCfg.Notify != nil) != (newCfg.Notify != nil) || !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nN.Enabled == nil || *nN.Enabled),
			logx.Int("notify.max_attempts", nN.MaxAttempts),
			logx.String("notify.retry_delay", strings.TrimSpace(nN.RetryDelay)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.throttle", strings.TrimSpace(newCfg.Broadcast.Throttle)),
			logx.String("broadcast.active_window", strings.TrimSpace(newCfg.Broadcast.ActiveWindow)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Autopost, newCfg.Autopost) {
		changed = append(changed, "autopost")
		attrs = append(attrs,
			logx.Bool("autopost.enabled", newCfg.Autopost.Enabled),
			logx.String("autopost.timezone", strings.TrimSpace(newCfg.Autopost.Timezone)),
			logx.String("autopost.tick", strings.TrimSpace(newCfg.Autopost.Tick)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.schedule", strings.TrimSpace(newCfg.Maintenance.Schedule)),
			logx.String("maintenance.prune_after", strings.TrimSpace(newCfg.Maintenance.PruneAfter)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefNotify(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}
