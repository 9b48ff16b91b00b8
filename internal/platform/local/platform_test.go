package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pookie/internal/eventbus"
	"pookie/internal/notifications"
	"pookie/internal/storage"
	kit "pookie/internal/transport"
	logx "pookie/pkg/logx"
)

type captureDeliverer struct {
	ch  chan kit.Message
	err error
}

func newCapture() *captureDeliverer { return &captureDeliverer{ch: make(chan kit.Message, 16)} }

func (c *captureDeliverer) Deliver(_ context.Context, m kit.Message) error {
	c.ch <- m
	return c.err
}

func (c *captureDeliverer) next(t *testing.T) kit.Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return kit.Message{}
	}
}

func newPlatform(t *testing.T, cfg Config, store storage.Store, d Deliverer, opts ...Option) *Platform {
	t.Helper()
	p, err := New(cfg, store, d, logx.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

var content = notifications.Content{
	Title: "Anniversary",
	Body:  "Tomorrow!",
	Sound: "default",
	Data:  map[string]string{"eventId": "ev-1", "type": "event_reminder"},
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Permission: "maybe"}, nil, nil, logx.Nop())
	require.Error(t, err)

	_, err = New(Config{Timezone: "Mars/Olympus"}, nil, nil, logx.Nop())
	require.Error(t, err)

	_, err = New(Config{Permission: " GRANT ", Timezone: "Asia/Jakarta"}, nil, nil, logx.Nop())
	require.NoError(t, err)
}

func TestPermission_Policies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		policy    string
		initial   notifications.PermissionStatus
		requested notifications.PermissionStatus
	}{
		{PolicyGrant, notifications.PermissionGranted, notifications.PermissionGranted},
		{PolicyDeny, notifications.PermissionDenied, notifications.PermissionDenied},
		{PolicyPrompt, notifications.PermissionUndetermined, notifications.PermissionGranted},
		{"", notifications.PermissionUndetermined, notifications.PermissionGranted},
	}
	for _, tt := range tests {
		t.Run("policy="+tt.policy, func(t *testing.T) {
			p := newPlatform(t, Config{Permission: tt.policy}, storage.NewMemory(), nil)

			st, err := p.PermissionStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.initial, st)

			st, err = p.RequestPermission(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.requested, st)
		})
	}
}

func TestPermission_PersistedAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	p := newPlatform(t, Config{Permission: PolicyPrompt}, store, nil)
	_, err := p.RequestPermission(ctx)
	require.NoError(t, err)

	p2 := newPlatform(t, Config{Permission: PolicyPrompt}, store, nil)
	st, err := p2.PermissionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, notifications.PermissionGranted, st)
}

func TestPermission_StoredDenialSticks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.PutPermission(ctx, string(notifications.PermissionDenied)))

	p := newPlatform(t, Config{Permission: PolicyPrompt}, store, nil)
	st, err := p.RequestPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, notifications.PermissionDenied, st)
}

func TestSchedule_RequiresPermission(t *testing.T) {
	p := newPlatform(t, Config{Permission: PolicyDeny}, nil, nil)

	_, err := p.ScheduleAt(context.Background(), content, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = p.ScheduleDaily(context.Background(), content, 9, 30)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestSchedule_BadTrigger(t *testing.T) {
	p := newPlatform(t, Config{Permission: PolicyGrant}, nil, nil)

	_, err := p.ScheduleAt(context.Background(), content, time.Time{})
	assert.ErrorIs(t, err, ErrBadTrigger)

	for _, hm := range [][2]int{{24, 0}, {-1, 0}, {9, 60}, {9, -1}} {
		_, err = p.ScheduleDaily(context.Background(), content, hm[0], hm[1])
		assert.ErrorIs(t, err, ErrBadTrigger, "%v", hm)
	}
}

func TestScheduleAt_FiresOnceAndExpires(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := newCapture()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	p := newPlatform(t, Config{Permission: PolicyGrant}, store, d, WithBus(bus))
	require.NoError(t, p.Start(ctx))

	id, err := p.ScheduleAt(ctx, content, time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	m := d.next(t)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "Anniversary", m.Title)
	assert.Equal(t, "event_reminder", m.Kind)
	assert.Equal(t, storage.TriggerOnce, m.Trigger)
	assert.Equal(t, 5, m.Priority)

	require.Eventually(t, func() bool { return len(store.Deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, store.Deliveries()[0].OK)

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	stored, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	select {
	case ev := <-events:
		assert.Equal(t, EventFired, ev.Type)
		fe := ev.Data.(FireEvent)
		assert.Equal(t, id, fe.ID)
		assert.True(t, fe.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("no fired event")
	}
}

func TestScheduleAt_DeliveryFailureLogged(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := newCapture()
	d.err = errors.New("sink down")

	p := newPlatform(t, Config{Permission: PolicyGrant}, store, d)
	require.NoError(t, p.Start(ctx))

	_, err := p.ScheduleAt(ctx, content, time.Now())
	require.NoError(t, err)
	d.next(t)

	require.Eventually(t, func() bool { return len(store.Deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	entry := store.Deliveries()[0]
	assert.False(t, entry.OK)
	assert.Equal(t, "sink down", entry.Error)
}

func TestStart_RestoresPending(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := newCapture()

	// First process schedules and stops before anything fires.
	p1, err := New(Config{Permission: PolicyGrant}, store, nil, logx.Nop())
	require.NoError(t, err)
	pastID, err := p1.ScheduleAt(ctx, content, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	dailyID, err := p1.ScheduleDaily(ctx, content, 7, 15)
	require.NoError(t, err)

	// Second process restores from the store; the overdue one-shot fires.
	p2 := newPlatform(t, Config{Permission: PolicyGrant}, store, d)
	require.NoError(t, p2.Start(ctx))

	m := d.next(t)
	assert.Equal(t, pastID, m.ID)

	require.Eventually(t, func() bool {
		ids, _ := p2.Pending(ctx)
		return len(ids) == 1 && ids[0] == dailyID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_SkipsCorruptPending(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.PutPending(ctx, storage.Pending{ID: "bad", Trigger: storage.TriggerDaily, Payload: []byte("{")}))
	require.NoError(t, store.PutPending(ctx, storage.Pending{ID: "odd", Trigger: "weekly", Payload: []byte("{}")}))

	p := newPlatform(t, Config{Permission: PolicyGrant}, store, nil)
	require.NoError(t, p.Start(ctx))

	ids, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReload_MergesOtherWriters(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := newCapture()

	daemon := newPlatform(t, Config{Permission: PolicyGrant}, store, d)
	require.NoError(t, daemon.Start(ctx))
	keepID, err := daemon.ScheduleDaily(ctx, content, 6, 0)
	require.NoError(t, err)
	dropID, err := daemon.ScheduleDaily(ctx, content, 6, 30)
	require.NoError(t, err)

	// A second writer (the CLI) shares the store but never starts.
	cli, err := New(Config{Permission: PolicyGrant}, store, nil, logx.Nop())
	require.NoError(t, err)
	dueID, err := cli.ScheduleAt(ctx, content, time.Now().Add(-time.Second))
	require.NoError(t, err)
	_, err = store.DeletePending(ctx, dropID)
	require.NoError(t, err)

	added, removed, err := daemon.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	assert.Equal(t, dueID, d.next(t).ID)
	require.Eventually(t, func() bool {
		ids, _ := daemon.Pending(ctx)
		return len(ids) == 1 && ids[0] == keepID
	}, 2*time.Second, 10*time.Millisecond)

	// Fired ids are not resurrected by a second pass.
	added, removed, err = daemon.Reload(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, removed)

	_, _, err = newPlatform(t, Config{}, nil, nil).Reload(ctx)
	require.NoError(t, err)
}

func TestScheduleDaily_NextInTimezone(t *testing.T) {
	ctx := context.Background()
	p := newPlatform(t, Config{Permission: PolicyGrant, Timezone: "Asia/Tokyo"}, nil, nil)
	require.NoError(t, p.Start(ctx))

	id, err := p.ScheduleDaily(ctx, content, 9, 30)
	require.NoError(t, err)

	next, ok := p.Next(id)
	require.True(t, ok)
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	local := next.In(tokyo)
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 30, local.Minute())

	require.NoError(t, p.Apply(Config{Permission: PolicyGrant, Timezone: "UTC"}))
	next, ok = p.Next(id)
	require.True(t, ok)
	assert.Equal(t, 9, next.UTC().Hour())
	assert.Equal(t, 30, next.UTC().Minute())
}

func TestRunDaily_DeliversAndStaysPending(t *testing.T) {
	ctx := context.Background()
	d := newCapture()
	p := newPlatform(t, Config{Permission: PolicyGrant}, nil, d)
	require.NoError(t, p.Start(ctx))

	daily := notifications.Content{Title: "Daily Love Tasks 💕", Data: map[string]string{"type": "daily_reminder"}}
	id, err := p.ScheduleDaily(ctx, daily, 21, 0)
	require.NoError(t, err)

	p.runDaily(id)
	m := d.next(t)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, storage.TriggerDaily, m.Trigger)
	assert.Equal(t, "daily_reminder", m.Kind)

	ids, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := newCapture()
	p := newPlatform(t, Config{Permission: PolicyGrant}, store, d)
	require.NoError(t, p.Start(ctx))

	once, err := p.ScheduleAt(ctx, content, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)
	daily, err := p.ScheduleDaily(ctx, content, 8, 0)
	require.NoError(t, err)

	require.NoError(t, p.Cancel(ctx, once))
	require.NoError(t, p.Cancel(ctx, "unknown"))

	ids, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{daily}, ids)

	select {
	case m := <-d.ch:
		t.Fatalf("canceled notification delivered: %s", m.ID)
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, p.CancelAll(ctx))
	ids, err = p.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	stored, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestConfigureChannel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := newCapture()
	p := newPlatform(t, Config{Permission: PolicyGrant}, store, d)
	require.NoError(t, p.Start(ctx))

	require.Error(t, p.ConfigureChannel(ctx, " ", notifications.DefaultChannel()))
	require.NoError(t, p.ConfigureChannel(ctx, notifications.DefaultChannelID, notifications.DefaultChannel()))

	_, ok, err := store.GetChannel(ctx, notifications.DefaultChannelID)
	require.NoError(t, err)
	assert.True(t, ok)

	high := content
	high.Data = map[string]string{"type": "event_reminder", "priority": "high"}
	_, err = p.ScheduleAt(ctx, high, time.Now())
	require.NoError(t, err)

	m := d.next(t)
	assert.Equal(t, notifications.DefaultChannelID, m.Channel)
	assert.Equal(t, 8, m.Priority)
}

func TestStart_RestoresChannel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	p1, err := New(Config{Permission: PolicyGrant}, store, nil, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, p1.ConfigureChannel(ctx, notifications.DefaultChannelID, notifications.DefaultChannel()))

	// A later run posts to the stored channel before any grant provisions it.
	d := newCapture()
	p2 := newPlatform(t, Config{Permission: PolicyGrant}, store, d)
	assert.Empty(t, p2.channelFor())
	require.NoError(t, p2.Start(ctx))
	assert.Equal(t, notifications.DefaultChannelID, p2.channelFor())

	p2.mu.Lock()
	spec := p2.channels[notifications.DefaultChannelID]
	p2.mu.Unlock()
	assert.Equal(t, notifications.DefaultChannel(), spec)

	_, err = p2.ScheduleAt(ctx, content, time.Now())
	require.NoError(t, err)
	assert.Equal(t, notifications.DefaultChannelID, d.next(t).Channel)
}

func TestStart_SkipsCorruptChannel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.PutChannel(ctx, notifications.DefaultChannelID, []byte("{")))

	p := newPlatform(t, Config{Permission: PolicyGrant}, store, nil)
	require.NoError(t, p.Start(ctx))
	assert.Empty(t, p.channelFor())
}

func TestScheduler_OverLocalPlatform(t *testing.T) {
	ctx := context.Background()
	d := newCapture()
	p := newPlatform(t, Config{Permission: PolicyPrompt}, storage.NewMemory(), d)
	require.NoError(t, p.Start(ctx))

	s := notifications.New(p, logx.Nop())
	rec, err := s.ScheduleEventNotification(ctx, notifications.EventNotification{
		Title:   "Date night",
		Body:    "Tonight at 8",
		Date:    time.Now().Add(20 * time.Millisecond),
		EventID: "ev-42",
	})
	require.NoError(t, err)
	_, err = s.ScheduleTaskReminder(ctx, "09:30")
	require.NoError(t, err)
	assert.True(t, s.PermissionGranted())
	require.Len(t, s.Notifications(), 2)

	m := d.next(t)
	assert.Equal(t, rec.ID, m.ID)
	assert.Equal(t, "ev-42", m.Data["eventId"])
	assert.Equal(t, notifications.DefaultChannelID, m.Channel)

	require.Eventually(t, func() bool {
		n, err := s.Sync(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, s.Notifications(), 1)
	assert.Equal(t, notifications.KindDailyReminder, s.Notifications()[0].Kind)
}
