package app

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"pookie/internal/config"
	logx "pookie/pkg/logx"
)

// restartOnly lists sections whose changes are picked up on restart only.
var restartOnly = []string{"storage", "telegram"}

func (a *App) reloadConfigLoop(ctx context.Context, sub <-chan *config.Config) {
	// Last applied config, diffed against each reload for the change summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the live-reloadable parts of newCfg.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range restartOnly {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if slices.Contains(sections, "logging") && a.logs != nil {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if slices.Contains(sections, "feedback") {
		a.fb.SetSoundEnabled(newCfg.Feedback.SoundEnabledOrDefault())
		a.fb.SetHapticsEnabled(newCfg.Feedback.HapticsEnabledOrDefault())
		a.audio.SetSilent(newCfg.Feedback.SilentMode)
		if oldCfg == nil || !maps.Equal(oldCfg.Feedback.Sounds, newCfg.Feedback.Sounds) ||
			oldCfg.Feedback.Player != newCfg.Feedback.Player || oldCfg.Feedback.Haptics != newCfg.Feedback.Haptics {
			a.log.Warn("sound assets, player or haptics backend changed; restart required for changes to take effect")
		}
	}

	if slices.Contains(sections, "notifications") {
		if pcfg, err := mapPlatformConfig(newCfg); err != nil {
			a.log.Warn("invalid notifications config; keeping previous", logx.Err(err))
		} else if err := a.platform.Apply(pcfg); err != nil {
			a.log.Warn("notification platform config rejected; keeping previous", logx.Err(err))
		}
		stepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		reschedule := oldCfg == nil || oldCfg.Notifications.DailyReminder != newCfg.Notifications.DailyReminder
		if oldCfg == nil || oldCfg.Notifications.Permission != newCfg.Notifications.Permission {
			// The scheduler caches the grant; re-resolve it against the new policy.
			granted, err := a.sched.RequestPermission(stepCtx)
			if err != nil {
				a.log.Warn("permission re-check failed", logx.Err(err))
			}
			a.log.Info("notification permission", logx.Bool("granted", granted))
			reschedule = reschedule || granted
		}
		if reschedule {
			if err := a.ensureDailyReminder(stepCtx, newCfg.Notifications.DailyReminder); err != nil {
				a.log.Warn("daily reminder update failed", logx.Err(err))
			}
		}
		cancel()
	}

	if slices.Contains(sections, "notifier") {
		prevEnabled := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			switch {
			case prevEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prevEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if slices.Contains(sections, "ops") {
		if ocfg, err := mapOpsConfig(newCfg); err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
		} else {
			a.ops.Reconfigure(ctx, ocfg)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
