package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pookie/internal/config"
	"pookie/internal/notifications"
	"pookie/internal/storage"
	kit "pookie/internal/transport"
	logx "pookie/pkg/logx"
)

type recordSink struct {
	mu   sync.Mutex
	msgs []kit.Message
	ch   chan kit.Message
}

func newRecordSink() *recordSink { return &recordSink{ch: make(chan kit.Message, 16)} }

func (r *recordSink) Name() string { return "record" }

func (r *recordSink) Send(_ context.Context, m kit.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	r.ch <- m
	return nil
}

func (r *recordSink) next(t *testing.T) kit.Message {
	t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
		return kit.Message{}
	}
}

func loadConfig(t *testing.T, body string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	m := config.NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	return m
}

func sqliteConfig(t *testing.T, dbPath, extra string) string {
	t.Helper()
	return fmt.Sprintf(`{
  "storage": {"driver": "sqlite", "path": %q},
  "notifications": {"permission": "grant", "timezone": "UTC"%s},
  "feedback": {"haptics": "log"},
  "notifier": {"enabled": true, "retry_max": 1, "retry_base": "10ms"}
}`, dbPath, extra)
}

func newApp(t *testing.T, cfgm *config.Manager, sink kit.Sink) *App {
	t.Helper()
	a, err := New(cfgm, WithSinks(sink), WithLogger(logx.Nop()), WithReloadInterval(50*time.Millisecond))
	require.NoError(t, err)
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopCommandEnd))
}

func TestApp_EndToEnd(t *testing.T) {
	cfgm := loadConfig(t, `{
  "storage": {"driver": "memory"},
  "notifications": {"permission": "grant", "timezone": "UTC", "daily_reminder": "07:30"},
  "feedback": {"haptics": "log"}
}`)
	sink := newRecordSink()
	a := newApp(t, cfgm, sink)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)

	assert.True(t, a.Scheduler().PermissionGranted())

	pending, err := a.Store().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, storage.TriggerDaily, pending[0].Trigger)
	assert.Equal(t, 7, pending[0].Hour)
	assert.Equal(t, 30, pending[0].Minute)

	rec, err := a.Scheduler().ScheduleEventNotification(ctx, notifications.EventNotification{
		Title:   "Picnic",
		Body:    "Bring the blanket",
		Date:    time.Now().Add(100 * time.Millisecond),
		EventID: "ev-42",
	})
	require.NoError(t, err)

	m := sink.next(t)
	assert.Equal(t, rec.ID, m.ID)
	assert.Equal(t, "Picnic", m.Title)
	assert.Equal(t, "ev-42", m.Data["eventId"])

	mem, ok := a.Store().(*storage.Memory)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		for _, d := range mem.Deliveries() {
			if d.NotificationID == rec.ID && d.OK {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	health, ok := a.health(ctx).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["permission"])
	assert.Equal(t, 1, health["pending"])

	require.NoError(t, a.Feedback().TaskComplete(ctx))
}

func TestApp_AdoptsStoredDailyReminder(t *testing.T) {
	db := filepath.Join(t.TempDir(), "pookie.db")
	body := sqliteConfig(t, db, `, "daily_reminder": "21:05"`)
	ctx := context.Background()

	first := newApp(t, loadConfig(t, body), newRecordSink())
	require.NoError(t, first.Start(ctx))
	firstID := first.dailyID
	require.NotEmpty(t, firstID)
	stopApp(t, first)

	second := newApp(t, loadConfig(t, body), newRecordSink())
	require.NoError(t, second.Start(ctx))
	defer stopApp(t, second)

	assert.Equal(t, firstID, second.dailyID)
	ids, err := second.Platform().Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{firstID}, ids)
}

func TestApp_PicksUpNotificationsFromOtherProcess(t *testing.T) {
	db := filepath.Join(t.TempDir(), "pookie.db")
	body := sqliteConfig(t, db, "")
	ctx := context.Background()

	sink := newRecordSink()
	daemon := newApp(t, loadConfig(t, body), sink)
	require.NoError(t, daemon.Start(ctx))
	defer stopApp(t, daemon)

	// The CLI shares the database but never starts.
	cli := newApp(t, loadConfig(t, body), newRecordSink())
	rec, err := cli.Scheduler().ScheduleEventNotification(ctx, notifications.EventNotification{
		Title: "Movie night",
		Date:  time.Now().Add(200 * time.Millisecond),
	})
	require.NoError(t, err)
	require.NoError(t, cli.Close())

	m := sink.next(t)
	assert.Equal(t, rec.ID, m.ID)
	assert.Equal(t, "Movie night", m.Title)
}

func TestApp_ApplyConfig(t *testing.T) {
	body := `{
  "notifications": {"permission": "grant", "timezone": "UTC", "daily_reminder": "07:30"},
  "feedback": {"haptics": "none"}
}`
	cfgm := loadConfig(t, body)
	a := newApp(t, cfgm, newRecordSink())
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)

	oldID := a.dailyID
	require.NotEmpty(t, oldID)

	off := false
	newCfg := *cfgm.Get()
	newCfg.Notifications.DailyReminder = "08:15"
	newCfg.Feedback.SoundEnabled = &off
	newCfg.Feedback.SilentMode = true
	newCfg.Notifier = &config.NotifierConfig{Enabled: false}

	a.applyConfig(ctx, cfgm.Get(), &newCfg)

	assert.False(t, a.Feedback().SoundEnabled())
	assert.True(t, a.Feedback().HapticsEnabled())
	assert.False(t, a.notif.Enabled())

	require.NotEqual(t, oldID, a.dailyID)
	next, ok := a.Platform().Next(a.dailyID)
	require.True(t, ok)
	assert.Equal(t, 8, next.Hour())
	assert.Equal(t, 15, next.Minute())
	ids, err := a.Platform().Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.dailyID}, ids)

	// Clearing the reminder cancels it.
	cleared := newCfg
	cleared.Notifications.DailyReminder = ""
	a.applyConfig(ctx, &newCfg, &cleared)
	assert.Empty(t, a.dailyID)
	ids, err = a.Platform().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestApp_DeliverWithoutNotifier(t *testing.T) {
	cfgm := loadConfig(t, `{
  "notifications": {"permission": "grant"},
  "notifier": {"enabled": false}
}`)
	sink := newRecordSink()
	a := newApp(t, cfgm, sink)
	defer func() { require.NoError(t, a.Close()) }()

	require.NoError(t, a.deliver(context.Background(), kit.Message{ID: "x", Title: "direct"}))
	assert.Equal(t, "direct", sink.next(t).Title)
}

func TestApp_PermissionDenied(t *testing.T) {
	cfgm := loadConfig(t, `{
  "notifications": {"permission": "deny", "daily_reminder": "07:30"}
}`)
	a := newApp(t, cfgm, newRecordSink())
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)

	assert.False(t, a.Scheduler().PermissionGranted())
	assert.Empty(t, a.dailyID)
	_, err := a.Scheduler().ScheduleTaskReminder(ctx, "09:00")
	require.ErrorIs(t, err, notifications.ErrPermissionDenied)
}

func TestApp_PermissionReload(t *testing.T) {
	cfgm := loadConfig(t, `{
  "notifications": {"permission": "deny", "timezone": "UTC", "daily_reminder": "07:30"}
}`)
	a := newApp(t, cfgm, newRecordSink())
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)
	require.Empty(t, a.dailyID)

	denied := *cfgm.Get()
	granted := denied
	granted.Notifications.Permission = "grant"
	a.applyConfig(ctx, &denied, &granted)

	assert.True(t, a.Scheduler().PermissionGranted())
	require.NotEmpty(t, a.dailyID)
	ids, err := a.Platform().Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.dailyID}, ids)

	a.applyConfig(ctx, &granted, &denied)
	assert.False(t, a.Scheduler().PermissionGranted())
	_, err = a.Scheduler().ScheduleTaskReminder(ctx, "09:00")
	require.ErrorIs(t, err, notifications.ErrPermissionDenied)
}

func TestApp_PlatformDenialBehindCachedGrant(t *testing.T) {
	cfgm := loadConfig(t, `{
  "notifications": {"permission": "grant", "timezone": "UTC"}
}`)
	a := newApp(t, cfgm, newRecordSink())
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)
	require.True(t, a.Scheduler().PermissionGranted())

	// Only the platform sees the new policy.
	denied := *cfgm.Get()
	denied.Notifications.Permission = "deny"
	pcfg, err := mapPlatformConfig(&denied)
	require.NoError(t, err)
	require.NoError(t, a.platform.Apply(pcfg))

	_, err = a.Scheduler().ScheduleTaskReminder(ctx, "09:00")
	require.ErrorIs(t, err, notifications.ErrPermissionDenied)
	assert.NotErrorIs(t, err, notifications.ErrPlatform)
	assert.False(t, a.Scheduler().PermissionGranted())
}

func TestApp_PlatformStartFailureLeavesNotifierIdle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "pookie.db")
	a := newApp(t, loadConfig(t, sqliteConfig(t, db, "")), newRecordSink())
	defer func() { _ = a.Close() }()
	require.True(t, a.notif.Enabled())

	// A closed store makes the platform fail to load pending triggers.
	require.NoError(t, a.Store().Close())
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform")
	assert.Nil(t, a.notif.Supervisor())
}
