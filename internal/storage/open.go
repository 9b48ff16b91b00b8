package storage

import (
	"context"
	"errors"
	"strings"

	logx "pookie/pkg/logx"
)

// Store is the persistence API used by the local notification platform.
type Store interface {
	PutPending(ctx context.Context, p Pending) error
	DeletePending(ctx context.Context, id string) (bool, error)
	DeleteAllPending(ctx context.Context) (int, error)
	ListPending(ctx context.Context) ([]Pending, error)

	GetPermission(ctx context.Context) (status string, ok bool, err error)
	PutPermission(ctx context.Context, status string) error

	PutChannel(ctx context.Context, id string, spec []byte) error
	GetChannel(ctx context.Context, id string) (spec []byte, ok bool, err error)

	AppendDelivery(ctx context.Context, e DeliveryEntry) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
