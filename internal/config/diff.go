package config

import (
	"reflect"
	"strings"

	logx "pookie/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing the new values. Secrets are reported only as
// "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Notifications, newCfg.Notifications) {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.String("notifications.permission", newCfg.Notifications.Permission),
			logx.String("notifications.timezone", strings.TrimSpace(newCfg.Notifications.Timezone)),
			logx.String("notifications.daily_reminder", newCfg.Notifications.DailyReminder),
		)
	}

	if !reflect.DeepEqual(oldCfg.Feedback, newCfg.Feedback) {
		changed = append(changed, "feedback")
		attrs = append(attrs,
			logx.Bool("feedback.sound_enabled", newCfg.Feedback.SoundEnabledOrDefault()),
			logx.Bool("feedback.haptics_enabled", newCfg.Feedback.HapticsEnabledOrDefault()),
			logx.Bool("feedback.silent_mode", newCfg.Feedback.SilentMode),
			logx.Int("feedback.sounds", len(newCfg.Feedback.Sounds)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Int("notifier.retry_max", n.RetryMax),
			)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.ThreadID != nt.ThreadID || ot.APIURL != nt.APIURL ||
		ot.Timeout != nt.Timeout || !reflect.DeepEqual(ot.ChatIDs, nt.ChatIDs) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Int("telegram.chat_count", len(nt.ChatIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	return changed, attrs
}
