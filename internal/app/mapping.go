package app

import (
	"fmt"
	"strings"
	"time"

	"pookie/internal/config"
	"pookie/internal/feedback"
	"pookie/internal/notifications"
	"pookie/internal/notifier"
	"pookie/internal/ops"
	"pookie/internal/platform/desktop"
	"pookie/internal/platform/local"
	"pookie/internal/storage"
	"pookie/internal/transport/telegram"
	logx "pookie/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapPlatformConfig(cfg *config.Config) (local.Config, error) {
	n := cfg.Notifications
	timeout, err := config.ParseDurationField("notifications.delivery_timeout", n.DeliveryTimeout)
	if err != nil {
		return local.Config{}, err
	}
	return local.Config{
		Permission:      n.Permission,
		Timezone:        strings.TrimSpace(n.Timezone),
		DeliveryTimeout: timeout,
	}, nil
}

// mapChannel returns the channel override, ok=false for the default channel.
func mapChannel(cfg *config.Config) (string, notifications.ChannelSpec, bool, error) {
	ch := cfg.Notifications.Channel
	if ch == nil {
		return "", notifications.ChannelSpec{}, false, nil
	}
	spec := notifications.DefaultChannel()
	if ch.Name != "" {
		spec.Name = ch.Name
	}
	switch ch.Importance {
	case "default":
		spec.Importance = notifications.ImportanceDefault
	case "high":
		spec.Importance = notifications.ImportanceHigh
	case "max":
		spec.Importance = notifications.ImportanceMax
	}
	if len(ch.Vibration) > 0 {
		pattern, err := config.ParseDurationList("notifications.channel.vibration", ch.Vibration)
		if err != nil {
			return "", notifications.ChannelSpec{}, false, err
		}
		spec.VibrationPattern = pattern
	}
	if ch.LightColor != "" {
		spec.LightColor = ch.LightColor
	}
	return ch.ID, spec, true, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	// Omitted section: enabled with defaults (zero values are defaulted by Apply).
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	n := cfg.Notifier
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		SendTimeout:     sendTimeout,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tg := cfg.Telegram
	if !tg.Enabled {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", tg.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:    tg.Token,
		ChatIDs:  tg.ChatIDs,
		ThreadID: tg.ThreadID,
		APIURL:   tg.APIURL,
		Timeout:  timeout,
	}, true, nil
}

func mapAudioConfig(cfg *config.Config) desktop.AudioConfig {
	fb := cfg.Feedback
	return desktop.AudioConfig{
		Player:  fb.Player,
		Args:    fb.PlayerArgs,
		Silent:  fb.SilentMode,
		BaseDir: fb.SoundsDir,
	}
}

func mapSounds(cfg *config.Config) map[feedback.SoundKind]string {
	out := make(map[feedback.SoundKind]string, len(cfg.Feedback.Sounds))
	for k, v := range cfg.Feedback.Sounds {
		out[feedback.SoundKind(k)] = v
	}
	return out
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		// Profiles stream for up to 30s by default.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  idle,
	}, nil
}

// validateMapped runs every mapping once so a reload that parses but cannot
// be applied is rejected before commit.
func validateMapped(cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPlatformConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapChannel(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	return nil
}
