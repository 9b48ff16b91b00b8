package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pookie/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "data", "pookie.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestOpen_Disabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestOpen_SQLiteRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
}

func TestStore_Pending(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.PutPending(ctx, Pending{
				ID: "a", Trigger: TriggerOnce, At: at, Channel: "default",
				Payload: []byte(`{"title":"Anniversary"}`), CreatedAt: base,
			}))
			require.NoError(t, st.PutPending(ctx, Pending{
				ID: "b", Trigger: TriggerDaily, Hour: 9, Minute: 30,
				Payload: []byte(`{"title":"Daily"}`), CreatedAt: base.Add(time.Minute),
			}))

			got, err := st.ListPending(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].ID)
			assert.True(t, got[0].At.Equal(at))
			assert.Equal(t, "default", got[0].Channel)
			assert.JSONEq(t, `{"title":"Anniversary"}`, string(got[0].Payload))
			assert.Equal(t, "b", got[1].ID)
			assert.Equal(t, TriggerDaily, got[1].Trigger)
			assert.Equal(t, 9, got[1].Hour)
			assert.Equal(t, 30, got[1].Minute)
			assert.True(t, got[1].At.IsZero())

			ok, err := st.DeletePending(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = st.DeletePending(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := st.DeleteAllPending(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err = st.ListPending(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_PendingUpsert(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			p := Pending{ID: "x", Trigger: TriggerDaily, Hour: 8, Payload: []byte(`{}`)}
			require.NoError(t, st.PutPending(ctx, p))
			p.Hour = 21
			require.NoError(t, st.PutPending(ctx, p))

			got, err := st.ListPending(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 21, got[0].Hour)
		})
	}
}

func TestStore_PermissionAndChannels(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.GetPermission(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutPermission(ctx, "denied"))
			require.NoError(t, st.PutPermission(ctx, "granted"))
			status, ok, err := st.GetPermission(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "granted", status)

			_, ok, err = st.GetChannel(ctx, "default")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutChannel(ctx, "default", []byte(`{"name":"default"}`)))
			spec, ok, err := st.GetChannel(ctx, "default")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"name":"default"}`, string(spec))
		})
	}
}

func TestStore_AppendDelivery(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.AppendDelivery(ctx, DeliveryEntry{NotificationID: "a", Trigger: TriggerOnce, OK: true}))
			require.NoError(t, st.AppendDelivery(ctx, DeliveryEntry{NotificationID: "b", Trigger: TriggerDaily, Error: "boom"}))
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "pookie.db")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutPending(ctx, Pending{ID: "keep", Trigger: TriggerDaily, Hour: 7, Payload: []byte(`{}`)}))
	require.NoError(t, st.PutPermission(ctx, "granted"))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)

	status, ok, err := st.GetPermission(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "granted", status)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	err := m.PutPermission(context.Background(), "granted")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = m.ListPending(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_Deliveries(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AppendDelivery(context.Background(), DeliveryEntry{NotificationID: "a", OK: true}))
	got := m.Deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].NotificationID)
	assert.False(t, got[0].At.IsZero())
}
