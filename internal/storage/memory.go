package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. It is used by tests and by the
// "memory" driver.
type Memory struct {
	mu         sync.Mutex
	closed     bool
	pending    map[string]Pending
	permission string
	channels   map[string][]byte
	deliveries []DeliveryEntry
}

func NewMemory() *Memory {
	return &Memory{pending: map[string]Pending{}, channels: map[string][]byte{}}
}

func (m *Memory) PutPending(_ context.Context, p Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.Payload = append([]byte(nil), p.Payload...)
	m.pending[p.ID] = p
	return nil
}

func (m *Memory) DeletePending(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.pending[id]
	delete(m.pending, id)
	return ok, nil
}

func (m *Memory) DeleteAllPending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := len(m.pending)
	m.pending = map[string]Pending{}
	return n, nil
}

func (m *Memory) ListPending(context.Context) ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Pending, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetPermission(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	return m.permission, m.permission != "", nil
}

func (m *Memory) PutPermission(_ context.Context, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.permission = status
	return nil
}

func (m *Memory) PutChannel(_ context.Context, id string, spec []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.channels[id] = append([]byte(nil), spec...)
	return nil
}

func (m *Memory) GetChannel(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	spec, ok := m.channels[id]
	return spec, ok, nil
}

func (m *Memory) AppendDelivery(_ context.Context, e DeliveryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.deliveries = append(m.deliveries, e)
	return nil
}

// Deliveries returns a copy of the delivery log.
func (m *Memory) Deliveries() []DeliveryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeliveryEntry(nil), m.deliveries...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
