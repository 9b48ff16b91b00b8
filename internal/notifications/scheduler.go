package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pookie/internal/eventbus"
	logx "pookie/pkg/logx"
)

// Event types published on the bus.
const (
	EventPermission = "notifications.permission"
	EventScheduled  = "notifications.scheduled"
	EventCanceled   = "notifications.canceled"
	EventSynced     = "notifications.synced"
)

// LifecycleEvent is the Data payload of the bus events above.
type LifecycleEvent struct {
	ID      string `json:"id,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Granted bool   `json:"granted,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type Option func(*Scheduler)

// WithBus publishes lifecycle events on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChannel overrides the channel provisioned after permission is granted.
func WithChannel(id string, spec ChannelSpec) Option {
	return func(s *Scheduler) {
		s.channelID = id
		s.channel = spec
	}
}

// Scheduler tracks permission and scheduled notifications.
//
// The mutex only guards in-memory state and is never held across a platform
// call, so concurrent operations are applied in the order their platform
// calls return.
type Scheduler struct {
	platform Platform
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	channelID string
	channel   ChannelSpec

	mu                sync.Mutex
	permissionGranted bool
	channelReady      bool
	records           []Record
}

func New(platform Platform, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		platform:  platform,
		log:       log,
		now:       time.Now,
		channelID: DefaultChannelID,
		channel:   DefaultChannel(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PermissionGranted reports the last resolved permission state.
func (s *Scheduler) PermissionGranted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissionGranted
}

// Notifications returns a copy of the local records in insertion order.
func (s *Scheduler) Notifications() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// RequestPermission queries the platform and asks for permission if it is
// not granted yet. On platform failure it returns false and leaves the
// stored state untouched.
func (s *Scheduler) RequestPermission(ctx context.Context) (bool, error) {
	status, err := s.platform.PermissionStatus(ctx)
	if err != nil {
		s.log.Error("permission query failed", logx.Err(err))
		return false, fmt.Errorf("%w: permission status: %w", ErrPlatform, err)
	}
	if status != PermissionGranted {
		status, err = s.platform.RequestPermission(ctx)
		if err != nil {
			s.log.Error("permission request failed", logx.Err(err))
			return false, fmt.Errorf("%w: request permission: %w", ErrPlatform, err)
		}
	}
	granted := status == PermissionGranted

	s.mu.Lock()
	s.permissionGranted = granted
	provision := granted && !s.channelReady
	s.mu.Unlock()

	s.publish(EventPermission, LifecycleEvent{Granted: granted})
	s.log.Debug("permission resolved", logx.String("status", string(status)))

	if provision {
		s.provisionChannel(ctx)
	}
	return granted, nil
}

// provisionChannel sets up the default channel on platforms that have
// channels. Failures are logged only and retried on the next grant.
func (s *Scheduler) provisionChannel(ctx context.Context) {
	cc, ok := s.platform.(ChannelConfigurer)
	if !ok {
		return
	}
	if err := cc.ConfigureChannel(ctx, s.channelID, s.channel); err != nil {
		s.log.Warn("notification channel setup failed", logx.String("channel", s.channelID), logx.Err(err))
		return
	}
	s.mu.Lock()
	s.channelReady = true
	s.mu.Unlock()
	s.log.Debug("notification channel ready", logx.String("channel", s.channelID))
}

// ensurePermission is the permission gate in front of every schedule call.
func (s *Scheduler) ensurePermission(ctx context.Context) error {
	if s.PermissionGranted() {
		return nil
	}
	granted, err := s.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if !granted {
		s.log.Info("scheduling skipped: permission not granted")
		return ErrPermissionDenied
	}
	return nil
}

// revoked drops a stale grant after the platform refused a schedule call.
func (s *Scheduler) revoked(err error) error {
	s.mu.Lock()
	s.permissionGranted = false
	s.mu.Unlock()
	s.publish(EventPermission, LifecycleEvent{Granted: false})
	s.log.Info("scheduling skipped: permission revoked", logx.Err(err))
	return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
}

// ScheduleEventNotification schedules a one-shot reminder at n.Date.
func (s *Scheduler) ScheduleEventNotification(ctx context.Context, n EventNotification) (Record, error) {
	if strings.TrimSpace(n.Title) == "" || n.Date.IsZero() {
		return Record{}, fmt.Errorf("%w: title and date are required", ErrInvalidNotification)
	}
	if err := s.ensurePermission(ctx); err != nil {
		return Record{}, err
	}

	id, err := s.platform.ScheduleAt(ctx, eventContent(n), n.Date)
	if errors.Is(err, ErrNotPermitted) {
		return Record{}, s.revoked(err)
	}
	if err != nil {
		s.log.Error("event notification schedule failed", logx.String("event_id", n.EventID), logx.Err(err))
		return Record{}, fmt.Errorf("%w: schedule at: %w", ErrPlatform, err)
	}

	rec := Record{
		ID:        id,
		Kind:      KindEventReminder,
		EventID:   n.EventID,
		Title:     n.Title,
		Date:      n.Date,
		CreatedAt: s.now(),
	}
	s.append(rec)
	s.log.Info("event notification scheduled",
		logx.String("id", id), logx.String("event_id", n.EventID), logx.Time("at", n.Date))
	return rec, nil
}

// ScheduleTaskReminder schedules the repeating daily task reminder at
// hhmm ("HH:MM", 24h). Malformed input is rejected before any platform call.
func (s *Scheduler) ScheduleTaskReminder(ctx context.Context, hhmm string) (Record, error) {
	hour, minute, err := ParseTimeOfDay(hhmm)
	if err != nil {
		s.log.Warn("daily reminder rejected", logx.String("time", hhmm), logx.Err(err))
		return Record{}, err
	}
	if err := s.ensurePermission(ctx); err != nil {
		return Record{}, err
	}

	id, err := s.platform.ScheduleDaily(ctx, dailyContent(), hour, minute)
	if errors.Is(err, ErrNotPermitted) {
		return Record{}, s.revoked(err)
	}
	if err != nil {
		s.log.Error("daily reminder schedule failed", logx.String("time", hhmm), logx.Err(err))
		return Record{}, fmt.Errorf("%w: schedule daily: %w", ErrPlatform, err)
	}

	rec := Record{
		ID:        id,
		Kind:      KindDailyReminder,
		Time:      FormatTimeOfDay(hour, minute),
		CreatedAt: s.now(),
	}
	s.append(rec)
	s.log.Info("daily reminder scheduled", logx.String("id", id), logx.String("time", rec.Time))
	return rec, nil
}

// CancelNotification cancels id on the platform and drops the matching
// local record. An id unknown locally is not an error.
func (s *Scheduler) CancelNotification(ctx context.Context, id string) error {
	if err := s.platform.Cancel(ctx, id); err != nil {
		s.log.Error("notification cancel failed", logx.String("id", id), logx.Err(err))
		return fmt.Errorf("%w: cancel %s: %w", ErrPlatform, id, err)
	}

	s.mu.Lock()
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if r.ID == id {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	s.mu.Unlock()

	s.publish(EventCanceled, LifecycleEvent{ID: id, Count: removed})
	s.log.Debug("notification canceled", logx.String("id", id), logx.Int("removed", removed))
	return nil
}

// CancelAllNotifications cancels everything on the platform and clears the
// local list, whatever it held.
func (s *Scheduler) CancelAllNotifications(ctx context.Context) error {
	if err := s.platform.CancelAll(ctx); err != nil {
		s.log.Error("cancel all notifications failed", logx.Err(err))
		return fmt.Errorf("%w: cancel all: %w", ErrPlatform, err)
	}

	s.mu.Lock()
	n := len(s.records)
	s.records = nil
	s.mu.Unlock()

	s.publish(EventCanceled, LifecycleEvent{Count: n})
	s.log.Info("all notifications canceled", logx.Int("removed", n))
	return nil
}

// Sync drops local records the platform no longer reports as pending and
// returns how many were dropped. Platforms that cannot list pending
// notifications are left alone.
func (s *Scheduler) Sync(ctx context.Context) (int, error) {
	pl, ok := s.platform.(PendingLister)
	if !ok {
		return 0, nil
	}
	ids, err := pl.Pending(ctx)
	if err != nil {
		s.log.Warn("pending notification listing failed", logx.Err(err))
		return 0, fmt.Errorf("%w: pending: %w", ErrPlatform, err)
	}
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	s.mu.Lock()
	kept := s.records[:0]
	pruned := 0
	for _, r := range s.records {
		if _, ok := pending[r.ID]; !ok {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	s.mu.Unlock()

	if pruned > 0 {
		s.publish(EventSynced, LifecycleEvent{Count: pruned})
		s.log.Debug("stale notification records pruned", logx.Int("pruned", pruned))
	}
	return pruned, nil
}

func (s *Scheduler) append(rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	s.publish(EventScheduled, LifecycleEvent{ID: rec.ID, Kind: rec.Kind})
}

func (s *Scheduler) publish(typ string, data LifecycleEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
