package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"pookie/internal/notifications"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json paths ("notifications.timezone") instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, _, err := notifications.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", trimRoot(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	for path, raw := range durationFields(cfg) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if ch := cfg.Notifications.Channel; ch != nil {
		if _, err := ParseDurationList("notifications.channel.vibration", ch.Vibration); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token: required when telegram is enabled"))
		}
		if len(cfg.Telegram.ChatIDs) == 0 {
			errs = append(errs, errors.New("telegram.chat_ids: required when telegram is enabled"))
		}
	}

	if cfg.Ops.Enabled && !cfg.Ops.AllowInsecure && strings.TrimSpace(cfg.Ops.Token) == "" {
		if addr := strings.TrimSpace(cfg.Ops.Addr); addr != "" && !isLoopbackAddr(addr) {
			errs = append(errs, fmt.Errorf("ops.addr: %s is not loopback; set ops.token or ops.allow_insecure", addr))
		}
	}
	return errors.Join(errs...)
}

func durationFields(cfg *Config) map[string]string {
	out := map[string]string{
		"notifications.delivery_timeout": cfg.Notifications.DeliveryTimeout,
		"telegram.timeout":               cfg.Telegram.Timeout,
		"ops.read_timeout":               cfg.Ops.ReadTimeout,
		"ops.idle_timeout":               cfg.Ops.IdleTimeout,
	}
	if cfg.Storage != nil {
		out["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	if n := cfg.Notifier; n != nil {
		out["notifier.retry_base"] = n.RetryBase
		out["notifier.retry_max_delay"] = n.RetryMaxDelay
		out["notifier.send_timeout"] = n.SendTimeout
		out["notifier.dedup_window"] = n.DedupWindow
	}
	return out
}

func trimRoot(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
