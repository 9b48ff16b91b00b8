package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. They keep secrets out of the config file and win
// over it on every (re)load.
const (
	EnvTelegramToken   = "POOKIE_TELEGRAM_TOKEN"
	EnvTelegramChatIDs = "POOKIE_TELEGRAM_CHAT_IDS"
	EnvOpsToken        = "POOKIE_OPS_TOKEN"
	EnvLogLevel        = "POOKIE_LOG_LEVEL"
	EnvTimezone        = "POOKIE_TIMEZONE"
)

// LoadDotEnv loads .env files into the process environment. Missing files
// are skipped; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv copies POOKIE_* overrides into cfg.
func ApplyEnv(cfg *Config) error {
	if v, ok := lookupEnv(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := lookupEnv(EnvTelegramChatIDs); ok {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelegramChatIDs, err)
		}
		cfg.Telegram.ChatIDs = ids
	}
	if v, ok := lookupEnv(EnvOpsToken); ok {
		cfg.Ops.Token = v
	}
	if v, ok := lookupEnv(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := lookupEnv(EnvTimezone); ok {
		cfg.Notifications.Timezone = v
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func parseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
