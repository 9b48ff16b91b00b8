package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Notifications NotificationsConfig `json:"notifications"`
	Feedback      FeedbackConfig      `json:"feedback"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	Telegram      TelegramConfig      `json:"telegram"`
	Ops           OpsConfig           `json:"ops"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty" validate:"omitempty,oneof=console json"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// StorageConfig controls persistence of pending notifications.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pookie.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none memory sqlite sqlite3"`
	Path        string `json:"path" validate:"required_if=Driver sqlite,required_if=Driver sqlite3"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotificationsConfig controls the local notification platform.
type NotificationsConfig struct {
	// Permission is the answer the platform gives when asked: grant, deny or
	// prompt (undetermined until requested, then granted).
	Permission string `json:"permission" validate:"omitempty,oneof=grant deny prompt"`
	// Timezone is an IANA name for daily reminders. Empty means host local.
	Timezone        string `json:"timezone,omitempty" validate:"omitempty,timezone"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	// DailyReminder ("HH:MM") is scheduled by serve when no daily reminder is
	// pending yet.
	DailyReminder string         `json:"daily_reminder,omitempty" validate:"omitempty,hhmm"`
	Channel       *ChannelConfig `json:"channel,omitempty"`
}

// ChannelConfig overrides the default notification channel.
type ChannelConfig struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name"`
	Importance string   `json:"importance" validate:"omitempty,oneof=default high max"`
	Vibration  []string `json:"vibration,omitempty"`
	LightColor string   `json:"light_color,omitempty" validate:"omitempty,hexcolor"`
}

// FeedbackConfig controls haptics and sounds.
//
// Toggles are pointers so an omitted key keeps the default (enabled).
type FeedbackConfig struct {
	SoundEnabled   *bool             `json:"sound_enabled,omitempty"`
	HapticsEnabled *bool             `json:"haptics_enabled,omitempty"`
	Haptics        string            `json:"haptics,omitempty" validate:"omitempty,oneof=log none"`
	Sounds         map[string]string `json:"sounds,omitempty" validate:"dive,keys,oneof=task_complete level_up achievement notification error,endkeys,required"`
	SoundsDir      string            `json:"sounds_dir,omitempty"`
	Player         string            `json:"player,omitempty"`
	PlayerArgs     []string          `json:"player_args,omitempty"`
	// SilentMode reports the host as muted; sounds are then skipped.
	SilentMode bool `json:"silent_mode"`
}

// NotifierConfig controls the async delivery pipeline. If the section is
// omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers" validate:"gte=0,lte=64"`
	QueueSize       int    `json:"queue_size" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax        int    `json:"retry_max" validate:"gte=0,lte=20"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries" validate:"gte=0"`
}

// TelegramConfig enables the Telegram delivery sink. The token may come from
// POOKIE_TELEGRAM_TOKEN instead.
type TelegramConfig struct {
	Enabled  bool    `json:"enabled"`
	Token    string  `json:"token,omitempty"`
	ChatIDs  []int64 `json:"chat_ids,omitempty"`
	ThreadID int     `json:"thread_id,omitempty"`
	APIURL   string  `json:"api_url,omitempty" validate:"omitempty,url"`
	Timeout  string  `json:"timeout,omitempty"`
}

// OpsConfig controls the ops HTTP server (/healthz, /metrics, /debug/pprof).
//
// Prefer a loopback address. A non-loopback address needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// SoundEnabledOrDefault reports the sound toggle, true when omitted.
func (f FeedbackConfig) SoundEnabledOrDefault() bool {
	return f.SoundEnabled == nil || *f.SoundEnabled
}

// HapticsEnabledOrDefault reports the haptics toggle, true when omitted.
func (f FeedbackConfig) HapticsEnabledOrDefault() bool {
	return f.HapticsEnabled == nil || *f.HapticsEnabled
}
