package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pookie/internal/config"
	"pookie/internal/eventbus"
	"pookie/internal/feedback"
	"pookie/internal/metrics"
	"pookie/internal/notifications"
	"pookie/internal/notifier"
	"pookie/internal/ops"
	"pookie/internal/platform/desktop"
	"pookie/internal/platform/local"
	rtsup "pookie/internal/runtime/supervisor"
	"pookie/internal/storage"
	kit "pookie/internal/transport"
	"pookie/internal/transport/console"
	"pookie/internal/transport/telegram"
	logx "pookie/pkg/logx"
)

// DefaultReloadInterval is how often the daemon merges pending
// notifications written by other processes (the CLI) from the store.
const DefaultReloadInterval = 30 * time.Second

type Option func(*options)

type options struct {
	sinks          []kit.Sink
	sinksSet       bool
	reloadInterval time.Duration
	logger         *logx.Logger
}

// WithSinks replaces the sinks built from config.
func WithSinks(sinks ...kit.Sink) Option {
	return func(o *options) {
		o.sinks = sinks
		o.sinksSet = true
	}
}

// WithReloadInterval overrides DefaultReloadInterval (<=0 disables).
func WithReloadInterval(d time.Duration) Option {
	return func(o *options) { o.reloadInterval = d }
}

// WithLogger replaces the config-driven logging service.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.logger = &log }
}

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sinks    []kit.Sink
	notif    *notifier.Service
	platform *local.Platform
	sched    *notifications.Scheduler
	audio    *desktop.CommandAudio
	fb       *feedback.Manager
	metrics  *metrics.Collector
	ops      *ops.Server

	reloadInterval time.Duration
	startedAt      time.Time
	sup            *rtsup.Supervisor

	dailyMu sync.Mutex
	dailyID string
}

// New builds every component from the manager's committed config. Nothing
// runs until Start.
func New(cfgm *config.Manager, opts ...Option) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	o := options{reloadInterval: DefaultReloadInterval}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		logSvc *logx.Service
		log    logx.Logger
	)
	if o.logger != nil {
		log = *o.logger
	} else {
		logSvc, log = logx.New(mapLogConfig(cfg))
	}
	cfgm.SetLogger(log.Component("config"))

	a := &App{
		cfgm:           cfgm,
		log:            log.Component("app"),
		logs:           logSvc,
		bus:            eventbus.New(),
		reloadInterval: o.reloadInterval,
	}
	if err := a.build(cfg, log, o); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		if logSvc != nil {
			_ = logSvc.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger, o options) error {
	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.Component("storage"))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	// Sinks
	if o.sinksSet {
		a.sinks = o.sinks
	} else {
		a.sinks = []kit.Sink{console.New(log.Component("sink.console"))}
		tc, enabled, err := mapTelegramConfig(cfg)
		if err != nil {
			return err
		}
		if enabled {
			tg, err := telegram.New(tc, log.Component("sink.telegram"))
			if err != nil {
				return fmt.Errorf("telegram: %w", err)
			}
			a.sinks = append(a.sinks, tg)
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.sinks, log.Component("notifier"), a.bus)

	pcfg, err := mapPlatformConfig(cfg)
	if err != nil {
		return err
	}
	a.platform, err = local.New(pcfg, a.store, local.DelivererFunc(a.deliver),
		log.Component("platform"), local.WithBus(a.bus))
	if err != nil {
		return err
	}

	schedOpts := []notifications.Option{notifications.WithBus(a.bus)}
	chID, chSpec, ok, err := mapChannel(cfg)
	if err != nil {
		return err
	}
	if ok {
		schedOpts = append(schedOpts, notifications.WithChannel(chID, chSpec))
	}
	a.sched = notifications.New(a.platform, log.Component("notifications"), schedOpts...)

	var haptics feedback.Haptics = desktop.NewLogHaptics(log.Component("haptics"), a.bus)
	if cfg.Feedback.Haptics == "none" {
		haptics = desktop.NoopHaptics{}
	}
	a.audio = desktop.NewCommandAudio(mapAudioConfig(cfg), log.Component("audio"))
	a.fb = feedback.New(haptics, a.audio, log.Component("feedback"),
		feedback.WithSounds(mapSounds(cfg)),
		feedback.WithBus(a.bus),
	)
	a.fb.SetSoundEnabled(cfg.Feedback.SoundEnabledOrDefault())
	a.fb.SetHapticsEnabled(cfg.Feedback.HapticsEnabledOrDefault())

	a.metrics = metrics.New(log.Component("metrics"),
		metrics.WithRuntimeCollectors(),
		metrics.WithGaugeFunc("pending_notifications", "Notifications waiting on the platform", func() float64 {
			ids, _ := a.platform.Pending(context.Background())
			return float64(len(ids))
		}),
		metrics.WithGaugeFunc("notifier_sinks", "Configured delivery sinks", func() float64 {
			return float64(len(a.sinks))
		}),
		metrics.WithCounterFunc("eventbus_dropped_total", "Events dropped because a subscriber was full", func() float64 {
			return float64(a.bus.Dropped())
		}),
	)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	a.ops = ops.New(opsCfg, log.Component("ops"),
		ops.WithGatherer(a.metrics.Registry()),
		ops.WithHealth(a.health),
	)
	return nil
}

func (a *App) Scheduler() *notifications.Scheduler { return a.sched }
func (a *App) Feedback() *feedback.Manager         { return a.fb }
func (a *App) Platform() *local.Platform           { return a.platform }
func (a *App) Store() storage.Store                { return a.store }
func (a *App) Bus() eventbus.Bus                   { return a.bus }
func (a *App) Ops() *ops.Server                    { return a.ops }
func (a *App) Logger() logx.Logger                 { return a.log }

// Config is the last committed config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// deliver routes fired notifications through the notifier, or straight to
// the sinks while the notifier is disabled.
func (a *App) deliver(ctx context.Context, m kit.Message) error {
	if a.notif.Enabled() {
		return a.notif.Deliver(ctx, m)
	}
	var errs []error
	for _, s := range a.sinks {
		if err := s.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	if err := a.platform.Start(runCtx); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("platform: %w", err)
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}

	a.sup.Go("metrics.collect", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	if a.ops.Enabled() {
		a.ops.Start(runCtx)
	}

	// Resolve permission up front so the channel is provisioned before the
	// first notification.
	granted, err := a.sched.RequestPermission(runCtx)
	if err != nil {
		a.log.Warn("permission request failed", logx.Err(err))
	}
	a.log.Info("notification permission", logx.Bool("granted", granted))

	if cfg := a.cfgm.Get(); cfg != nil && granted {
		if err := a.ensureDailyReminder(runCtx, cfg.Notifications.DailyReminder); err != nil {
			a.log.Warn("daily reminder setup failed", logx.Err(err))
		}
	}

	if a.reloadInterval > 0 && a.store != nil {
		a.sup.Go0("pending.reload", a.reloadLoop)
	}

	// Debug-level event trace (the metrics collector subscribes separately).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadConfigLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("sinks", len(a.sinks)), logx.Bool("notifier", a.notif.Enabled()))
	return nil
}

// reloadLoop merges store changes made by other processes and prunes
// records of notifications that already fired.
func (a *App) reloadLoop(ctx context.Context) {
	t := time.NewTicker(a.reloadInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, _, err := a.platform.Reload(ctx); err != nil {
				a.log.Warn("pending reload failed", logx.Err(err))
				continue
			}
			if _, err := a.sched.Sync(ctx); err != nil {
				a.log.Warn("notification sync failed", logx.Err(err))
			}
		}
	}
}

// ensureDailyReminder makes hhmm the single configured daily reminder. A
// matching reminder already in the store is adopted; a previous one set up
// by this process is canceled. Empty hhmm cancels it.
func (a *App) ensureDailyReminder(ctx context.Context, hhmm string) error {
	hhmm = strings.TrimSpace(hhmm)
	var hour, minute int
	if hhmm != "" {
		var err error
		if hour, minute, err = notifications.ParseTimeOfDay(hhmm); err != nil {
			return err
		}
	}

	a.dailyMu.Lock()
	defer a.dailyMu.Unlock()

	if a.dailyID == "" && hhmm != "" && a.store != nil {
		pending, err := a.store.ListPending(ctx)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if p.Trigger == storage.TriggerDaily && p.Hour == hour && p.Minute == minute {
				a.dailyID = p.ID
				a.log.Debug("daily reminder adopted", logx.String("id", p.ID), logx.String("time", hhmm))
				return nil
			}
		}
	}

	if a.dailyID != "" {
		if next, ok := a.platform.Next(a.dailyID); ok && hhmm != "" &&
			next.Hour() == hour && next.Minute() == minute {
			return nil
		}
		if err := a.sched.CancelNotification(ctx, a.dailyID); err != nil {
			return err
		}
		a.dailyID = ""
	}
	if hhmm == "" {
		return nil
	}
	rec, err := a.sched.ScheduleTaskReminder(ctx, hhmm)
	if err != nil {
		return err
	}
	a.dailyID = rec.ID
	return nil
}

func (a *App) health(ctx context.Context) any {
	ids, _ := a.platform.Pending(ctx)
	out := map[string]any{
		"status":     "ok",
		"permission": a.sched.PermissionGranted(),
		"pending":    len(ids),
		"records":    len(a.sched.Notifications()),
		"notifier":   a.notif.Enabled(),
		"sinks":      len(a.sinks),
	}
	if !a.startedAt.IsZero() {
		out["uptime"] = time.Since(a.startedAt).Round(time.Second).String()
	}
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			out["status"] = "degraded"
			out["error"] = err.Error()
		}
		out["goroutines"] = a.sup.Counters()
	}
	if sup := a.notif.Supervisor(); sup != nil {
		out["notifier_goroutines"] = sup.Counters()
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "platform", 2*time.Second, func(c context.Context) error { a.platform.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.Close()
}

// Close releases sounds, storage and log files. Stop calls it; commands that
// never Start call it directly.
func (a *App) Close() error {
	var errs []error
	if err := a.fb.Close(); err != nil {
		errs = append(errs, fmt.Errorf("feedback: %w", err))
	}
	for _, s := range a.sinks {
		if st, ok := s.(kit.Stopper); ok {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := st.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
			}
			cancel()
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs a shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		// fn must honor stepCtx; log the overrun and the eventual finish.
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name),
				logx.Duration("took", time.Since(start)), logx.Bool("ok", err == nil))
		}()
	}
}
