package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local maps, nothing survives a restart
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Trigger kinds of a pending notification.
const (
	TriggerOnce  = "once"
	TriggerDaily = "daily"
)

// Pending is a notification the platform still has to fire.
// Payload is the JSON-encoded notification content.
type Pending struct {
	ID        string
	Trigger   string
	At        time.Time // TriggerOnce
	Hour      int       // TriggerDaily
	Minute    int       // TriggerDaily
	Channel   string
	Payload   []byte
	CreatedAt time.Time
}

// DeliveryEntry records one fired notification.
type DeliveryEntry struct {
	At             time.Time
	NotificationID string
	Trigger        string
	Channel        string
	OK             bool
	Error          string
}
