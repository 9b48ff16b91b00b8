package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"pookie/internal/eventbus"
	"pookie/internal/notifications"
	"pookie/internal/storage"
	kit "pookie/internal/transport"
	logx "pookie/pkg/logx"
)

var (
	ErrNotPermitted = notifications.ErrNotPermitted
	ErrBadTrigger   = errors.New("invalid trigger")
)

// EventFired is published after every delivery attempt.
const EventFired = "platform.fired"

// Permission policies.
const (
	PolicyGrant  = "grant"
	PolicyDeny   = "deny"
	PolicyPrompt = "prompt"
)

type Config struct {
	// Permission is one of grant, deny, prompt. Empty means prompt.
	Permission string
	// Timezone is an IANA name used for daily triggers. Empty means local.
	Timezone        string
	DeliveryTimeout time.Duration
}

// Deliverer receives fired notifications.
type Deliverer interface {
	Deliver(ctx context.Context, m kit.Message) error
}

type DelivererFunc func(ctx context.Context, m kit.Message) error

func (f DelivererFunc) Deliver(ctx context.Context, m kit.Message) error { return f(ctx, m) }

// FireEvent is the Data payload of EventFired.
type FireEvent struct {
	ID      string `json:"id"`
	Trigger string `json:"trigger"`
	Kind    string `json:"kind,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type Option func(*Platform)

func WithBus(bus eventbus.Bus) Option { return func(p *Platform) { p.bus = bus } }

func WithClock(now func() time.Time) Option {
	return func(p *Platform) {
		if now != nil {
			p.now = now
		}
	}
}

type onceDef struct {
	at      time.Time
	content notifications.Content
	channel string
	ver     uint64
	timer   *time.Timer
	created time.Time
}

type dailyDef struct {
	hour, minute int
	content      notifications.Content
	channel      string
	entryID      cron.EntryID
	created      time.Time
}

// Platform is a notification platform backed by in-process timers and a
// Store. One-shot triggers use time.AfterFunc; daily triggers run on cron in
// the configured timezone.
//
// Definitions outlive Stop: they are re-armed by the next Start, and when a
// Store is set they are reloaded from it.
type Platform struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	store   storage.Store
	deliver Deliverer
	bus     eventbus.Bus
	now     func() time.Time

	status     notifications.PermissionStatus
	permLoaded bool

	loc    *time.Location
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc

	once     map[string]*onceDef
	daily    map[string]*dailyDef
	channels map[string]notifications.ChannelSpec
	// gone holds ids fired or canceled here whose store rows may still be
	// visible to Reload.
	gone map[string]struct{}

	inflight sync.WaitGroup
}

func New(cfg Config, store storage.Store, deliver Deliverer, log logx.Logger, opts ...Option) (*Platform, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := validatePolicy(cfg.Permission); err != nil {
		return nil, err
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	p := &Platform{
		cfg:      cfg,
		log:      log,
		store:    store,
		deliver:  deliver,
		now:      time.Now,
		loc:      loc,
		once:     map[string]*onceDef{},
		daily:    map[string]*dailyDef{},
		channels: map[string]notifications.ChannelSpec{},
		gone:     map[string]struct{}{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Apply swaps the config. A timezone change restarts cron so daily triggers
// follow the new location.
func (p *Platform) Apply(cfg Config) error {
	if err := validatePolicy(cfg.Permission); err != nil {
		return err
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	p.mu.Lock()
	oldTZ := strings.TrimSpace(p.cfg.Timezone)
	if normPolicy(p.cfg.Permission) != normPolicy(cfg.Permission) {
		p.permLoaded = false
	}
	p.cfg = cfg
	var old *cron.Cron
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		p.loc = loc
		if p.c != nil {
			old = p.restartCronLocked()
		}
	}
	p.mu.Unlock()

	// Running jobs take p.mu, so wait for the old cron outside the lock.
	if old != nil {
		<-old.Stop().Done()
	}
	return nil
}

// Start loads persisted triggers, starts cron and arms one-shot timers.
// One-shots whose time has passed fire right away.
func (p *Platform) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.c != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	var pending []storage.Pending
	if p.store != nil {
		var err error
		if pending, err = p.store.ListPending(ctx); err != nil {
			return fmt.Errorf("load pending: %w", err)
		}
		if err := p.restoreChannel(ctx, notifications.DefaultChannelID); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	restored := 0
	for _, rec := range pending {
		if p.restoreLocked(rec) {
			restored++
		}
	}

	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.c = cron.New(cron.WithLocation(p.loc))
	for id, d := range p.daily {
		p.addCronLocked(id, d)
	}
	p.c.Start()
	for id, d := range p.once {
		p.armLocked(id, d)
	}
	p.log.Info("notification platform started",
		logx.String("tz", p.loc.String()),
		logx.Int("once", len(p.once)),
		logx.Int("daily", len(p.daily)),
		logx.Int("restored", restored))
	return nil
}

// Stop halts triggering and waits for in-flight deliveries until ctx ends.
// Definitions are kept.
func (p *Platform) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	cancel := p.cancel
	for _, d := range p.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	for _, d := range p.daily {
		d.entryID = 0
	}
	p.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	}
	if cancel != nil {
		cancel()
	}
	p.log.Info("notification platform stopped")
}

func (p *Platform) PermissionStatus(ctx context.Context) (notifications.PermissionStatus, error) {
	p.mu.Lock()
	loaded, status, policy := p.permLoaded, p.status, normPolicy(p.cfg.Permission)
	p.mu.Unlock()
	if loaded {
		return status, nil
	}

	status = notifications.PermissionUndetermined
	switch policy {
	case PolicyGrant:
		status = notifications.PermissionGranted
	case PolicyDeny:
		status = notifications.PermissionDenied
	default:
		if p.store != nil {
			stored, ok, err := p.store.GetPermission(ctx)
			if err != nil {
				return "", fmt.Errorf("load permission: %w", err)
			}
			if ok {
				status = notifications.PermissionStatus(stored)
			}
		}
	}

	p.mu.Lock()
	p.status, p.permLoaded = status, true
	p.mu.Unlock()
	return status, nil
}

// RequestPermission resolves an undetermined permission. Under the prompt
// policy the request is accepted; an earlier denial sticks.
func (p *Platform) RequestPermission(ctx context.Context) (notifications.PermissionStatus, error) {
	status, err := p.PermissionStatus(ctx)
	if err != nil {
		return "", err
	}
	if status != notifications.PermissionUndetermined {
		return status, nil
	}
	status = notifications.PermissionGranted
	if p.store != nil {
		if err := p.store.PutPermission(ctx, string(status)); err != nil {
			return "", fmt.Errorf("save permission: %w", err)
		}
	}
	p.mu.Lock()
	p.status, p.permLoaded = status, true
	p.mu.Unlock()
	p.log.Info("notification permission granted")
	return status, nil
}

func (p *Platform) ConfigureChannel(ctx context.Context, id string, spec notifications.ChannelSpec) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("channel id required")
	}
	if p.store != nil {
		b, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		if err := p.store.PutChannel(ctx, id, b); err != nil {
			return fmt.Errorf("save channel %s: %w", id, err)
		}
	}
	p.mu.Lock()
	p.channels[id] = spec
	p.mu.Unlock()
	p.log.Debug("channel configured", logx.String("channel", id), logx.Int("importance", int(spec.Importance)))
	return nil
}

// restoreChannel loads a channel saved by an earlier run, so notifications
// scheduled before the next permission grant still post to it.
func (p *Platform) restoreChannel(ctx context.Context, id string) error {
	b, ok, err := p.store.GetChannel(ctx, id)
	if err != nil {
		return fmt.Errorf("load channel %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	var spec notifications.ChannelSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		p.log.Warn("stored channel skipped", logx.String("channel", id), logx.Err(err))
		return nil
	}
	p.mu.Lock()
	if _, known := p.channels[id]; !known {
		p.channels[id] = spec
	}
	p.mu.Unlock()
	p.log.Debug("channel restored", logx.String("channel", id))
	return nil
}

func (p *Platform) ScheduleAt(ctx context.Context, c notifications.Content, at time.Time) (string, error) {
	if at.IsZero() {
		return "", fmt.Errorf("%w: zero time", ErrBadTrigger)
	}
	if err := p.requireGranted(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	created := p.now()
	channel := p.channelFor()
	if err := p.persist(ctx, storage.Pending{
		ID: id, Trigger: storage.TriggerOnce, At: at, Channel: channel, CreatedAt: created,
	}, c); err != nil {
		return "", err
	}

	d := &onceDef{at: at, content: c, channel: channel, created: created}
	p.mu.Lock()
	// A concurrent Reload may have restored it from the store already.
	if _, ok := p.once[id]; !ok {
		p.once[id] = d
		if p.c != nil {
			p.armLocked(id, d)
		}
	}
	p.mu.Unlock()
	p.log.Debug("one-shot scheduled", logx.String("id", id), logx.Time("at", at))
	return id, nil
}

func (p *Platform) ScheduleDaily(ctx context.Context, c notifications.Content, hour, minute int) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("%w: daily %d:%d", ErrBadTrigger, hour, minute)
	}
	if err := p.requireGranted(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	created := p.now()
	channel := p.channelFor()
	if err := p.persist(ctx, storage.Pending{
		ID: id, Trigger: storage.TriggerDaily, Hour: hour, Minute: minute, Channel: channel, CreatedAt: created,
	}, c); err != nil {
		return "", err
	}

	d := &dailyDef{hour: hour, minute: minute, content: c, channel: channel, created: created}
	p.mu.Lock()
	if _, ok := p.daily[id]; !ok {
		p.daily[id] = d
		if p.c != nil {
			p.addCronLocked(id, d)
		}
	}
	p.mu.Unlock()
	p.log.Debug("daily trigger scheduled", logx.String("id", id), logx.String("at", notifications.FormatTimeOfDay(hour, minute)))
	return id, nil
}

// Cancel removes id. Unknown ids are ignored.
func (p *Platform) Cancel(ctx context.Context, id string) error {
	p.mu.Lock()
	found := p.removeLocked(id)
	p.mu.Unlock()

	if p.store != nil {
		if _, err := p.store.DeletePending(ctx, id); err != nil {
			return fmt.Errorf("delete pending %s: %w", id, err)
		}
	}
	if found {
		p.log.Debug("notification canceled", logx.String("id", id))
	}
	return nil
}

func (p *Platform) CancelAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.once)+len(p.daily))
	for id := range p.once {
		ids = append(ids, id)
	}
	for id := range p.daily {
		ids = append(ids, id)
	}
	for _, id := range ids {
		p.removeLocked(id)
	}
	p.mu.Unlock()

	if p.store != nil {
		if _, err := p.store.DeleteAllPending(ctx); err != nil {
			return fmt.Errorf("delete pending: %w", err)
		}
	}
	p.log.Info("all notifications canceled", logx.Int("count", len(ids)))
	return nil
}

// Reload merges the store's pending set into memory: rows written by another
// process are armed and definitions whose rows were deleted elsewhere are
// dropped. Without a store it does nothing.
func (p *Platform) Reload(ctx context.Context) (added, removed int, err error) {
	if p.store == nil {
		return 0, 0, nil
	}
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load pending: %w", err)
	}
	inStore := make(map[string]struct{}, len(pending))

	p.mu.Lock()
	for _, rec := range pending {
		inStore[rec.ID] = struct{}{}
		if _, ok := p.gone[rec.ID]; ok {
			continue
		}
		if !p.restoreLocked(rec) {
			continue
		}
		added++
		if p.c == nil {
			continue
		}
		if d, ok := p.once[rec.ID]; ok {
			p.armLocked(rec.ID, d)
		} else if d, ok := p.daily[rec.ID]; ok {
			p.addCronLocked(rec.ID, d)
		}
	}
	var stale []string
	for id := range p.once {
		if _, ok := inStore[id]; !ok {
			stale = append(stale, id)
		}
	}
	for id := range p.daily {
		if _, ok := inStore[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		p.removeLocked(id)
		removed++
	}
	for id := range p.gone {
		if _, ok := inStore[id]; !ok {
			delete(p.gone, id)
		}
	}
	p.mu.Unlock()

	if added > 0 || removed > 0 {
		p.log.Info("pending notifications reloaded", logx.Int("added", added), logx.Int("removed", removed))
	}
	return added, removed, nil
}

// Pending lists ids that have not fired or been canceled, ordered by
// creation time.
func (p *Platform) Pending(context.Context) ([]string, error) {
	type item struct {
		id      string
		created time.Time
	}
	p.mu.Lock()
	items := make([]item, 0, len(p.once)+len(p.daily))
	for id, d := range p.once {
		items = append(items, item{id, d.created})
	}
	for id, d := range p.daily {
		items = append(items, item{id, d.created})
	}
	p.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].created.Equal(items[j].created) {
			return items[i].created.Before(items[j].created)
		}
		return items[i].id < items[j].id
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out, nil
}

// Next returns the next fire time of id, if it is scheduled and running.
func (p *Platform) Next(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.once[id]; ok {
		return d.at, true
	}
	if d, ok := p.daily[id]; ok && p.c != nil && d.entryID != 0 {
		return p.c.Entry(d.entryID).Next, true
	}
	return time.Time{}, false
}

func (p *Platform) requireGranted(ctx context.Context) error {
	status, err := p.PermissionStatus(ctx)
	if err != nil {
		return err
	}
	if status != notifications.PermissionGranted {
		return fmt.Errorf("%w: %s", ErrNotPermitted, status)
	}
	return nil
}

func (p *Platform) persist(ctx context.Context, rec storage.Pending, c notifications.Content) error {
	if p.store == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	rec.Payload = b
	if err := p.store.PutPending(ctx, rec); err != nil {
		return fmt.Errorf("save pending %s: %w", rec.ID, err)
	}
	return nil
}

// channelFor returns the channel new notifications are posted to.
func (p *Platform) channelFor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[notifications.DefaultChannelID]; ok {
		return notifications.DefaultChannelID
	}
	return ""
}

// restoreLocked rebuilds a definition from a stored record. Records already
// known in memory win.
func (p *Platform) restoreLocked(rec storage.Pending) bool {
	if _, ok := p.once[rec.ID]; ok {
		return false
	}
	if _, ok := p.daily[rec.ID]; ok {
		return false
	}
	var c notifications.Content
	if err := json.Unmarshal(rec.Payload, &c); err != nil {
		p.log.Warn("pending notification skipped", logx.String("id", rec.ID), logx.Err(err))
		return false
	}
	switch rec.Trigger {
	case storage.TriggerOnce:
		p.once[rec.ID] = &onceDef{at: rec.At, content: c, channel: rec.Channel, created: rec.CreatedAt}
	case storage.TriggerDaily:
		p.daily[rec.ID] = &dailyDef{hour: rec.Hour, minute: rec.Minute, content: c, channel: rec.Channel, created: rec.CreatedAt}
	default:
		p.log.Warn("pending notification skipped", logx.String("id", rec.ID), logx.String("trigger", rec.Trigger))
		return false
	}
	return true
}

func (p *Platform) removeLocked(id string) bool {
	p.gone[id] = struct{}{}
	if d, ok := p.once[id]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(p.once, id)
		return true
	}
	if d, ok := p.daily[id]; ok {
		if p.c != nil && d.entryID != 0 {
			p.c.Remove(d.entryID)
		}
		delete(p.daily, id)
		return true
	}
	return false
}

// armLocked (re)creates the timer of a one-shot. The version guard makes
// callbacks of replaced timers no-ops.
func (p *Platform) armLocked(id string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.ver++
	ver := d.ver
	delay := max(d.at.Sub(p.now()), 0)
	d.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		cur, ok := p.once[id]
		if !ok || cur.ver != ver || p.c == nil {
			p.mu.Unlock()
			return
		}
		// Drop the definition first so a restart cannot fire it twice.
		delete(p.once, id)
		p.gone[id] = struct{}{}
		ctx := p.runCtx
		p.inflight.Add(1)
		p.mu.Unlock()
		defer p.inflight.Done()

		if p.store != nil {
			if _, err := p.store.DeletePending(ctx, id); err != nil {
				p.log.Warn("pending cleanup failed", logx.String("id", id), logx.Err(err))
			}
		}
		p.fire(ctx, id, storage.TriggerOnce, cur.content, cur.channel)
	})
}

func (p *Platform) addCronLocked(id string, d *dailyDef) {
	spec := fmt.Sprintf("%d %d * * *", d.minute, d.hour)
	eid, err := p.c.AddFunc(spec, func() { p.runDaily(id) })
	if err != nil {
		p.log.Error("daily trigger rejected", logx.String("id", id), logx.String("spec", spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

func (p *Platform) runDaily(id string) {
	p.mu.Lock()
	d, ok := p.daily[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	content, channel := d.content, d.channel
	ctx := p.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	p.fire(ctx, id, storage.TriggerDaily, content, channel)
}

// restartCronLocked swaps in a cron for the current location and returns the
// old one, which the caller must stop after releasing p.mu.
func (p *Platform) restartCronLocked() *cron.Cron {
	old := p.c
	for _, d := range p.daily {
		old.Remove(d.entryID)
		d.entryID = 0
	}
	p.c = cron.New(cron.WithLocation(p.loc))
	for id, d := range p.daily {
		p.addCronLocked(id, d)
	}
	p.c.Start()
	p.log.Info("daily triggers rescheduled", logx.String("tz", p.loc.String()), logx.Int("daily", len(p.daily)))
	return old
}

func (p *Platform) fire(ctx context.Context, id, trigger string, c notifications.Content, channel string) {
	m := toMessage(id, trigger, c, channel, p.now())

	var err error
	if p.deliver != nil {
		timeout := p.cfg.DeliveryTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		err = p.deliver.Deliver(dctx, m)
		cancel()
	}

	entry := storage.DeliveryEntry{At: m.At, NotificationID: id, Trigger: trigger, Channel: channel, OK: err == nil}
	ev := FireEvent{ID: id, Trigger: trigger, Kind: m.Kind, OK: err == nil}
	if err != nil {
		entry.Error = err.Error()
		ev.Error = err.Error()
		p.log.Warn("notification delivery failed", logx.String("id", id), logx.String("trigger", trigger), logx.Err(err))
	} else {
		p.log.Debug("notification fired", logx.String("id", id), logx.String("trigger", trigger))
	}
	if p.store != nil {
		if serr := p.store.AppendDelivery(context.WithoutCancel(ctx), entry); serr != nil {
			p.log.Warn("delivery log append failed", logx.String("id", id), logx.Err(serr))
		}
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: EventFired, Time: m.At, Data: ev})
	}
}

func toMessage(id, trigger string, c notifications.Content, channel string, at time.Time) kit.Message {
	kind := c.Data["type"]
	prio := 5
	if c.Data["priority"] == "high" {
		prio = 8
	}
	return kit.Message{
		ID:       id,
		Kind:     kind,
		Trigger:  trigger,
		Channel:  channel,
		Title:    c.Title,
		Body:     c.Body,
		Sound:    c.Sound,
		Data:     c.Data,
		Priority: prio,
		At:       at,
	}
}

func normPolicy(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PolicyPrompt
	}
	return s
}

func validatePolicy(s string) error {
	switch normPolicy(s) {
	case PolicyGrant, PolicyDeny, PolicyPrompt:
		return nil
	default:
		return fmt.Errorf("unknown permission policy %q", s)
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}
