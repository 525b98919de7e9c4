package storage

import (
	"context"
	"sync"

	"schoolbell/internal/bell"
)

const memAuditCap = 1000

type memStore struct {
	mu     sync.RWMutex
	data   *dataset
	audit  []AuditEntry
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() Store {
	return &memStore{data: newDataset()}
}

func (m *memStore) read(fn func(d *dataset) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.data)
}

func (m *memStore) write(fn func(d *dataset) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.data)
}

func (m *memStore) ListSchedules(ctx context.Context) ([]bell.Schedule, error) {
	var out []bell.Schedule
	err := m.read(func(d *dataset) error {
		out = append([]bell.Schedule(nil), d.Schedules...)
		return nil
	})
	return out, err
}

func (m *memStore) PutSchedule(ctx context.Context, s bell.Schedule) error {
	return m.write(func(d *dataset) error { d.putSchedule(s); return nil })
}

func (m *memStore) DeleteSchedule(ctx context.Context, id string) error {
	return m.write(func(d *dataset) error { return d.deleteSchedule(id) })
}

func (m *memStore) ListAudioClips(ctx context.Context) ([]bell.AudioClip, error) {
	var out []bell.AudioClip
	err := m.read(func(d *dataset) error {
		out = append([]bell.AudioClip(nil), d.Clips...)
		return nil
	})
	return out, err
}

func (m *memStore) GetAudioClip(ctx context.Context, id string) (bell.AudioClip, error) {
	var c bell.AudioClip
	err := m.read(func(d *dataset) (err error) {
		c, err = d.getClip(id)
		return err
	})
	return c, err
}

func (m *memStore) PutAudioClip(ctx context.Context, c bell.AudioClip) error {
	return m.write(func(d *dataset) error { d.putClip(c); return nil })
}

func (m *memStore) DeleteAudioClip(ctx context.Context, id string) ([]string, error) {
	var cleared []string
	err := m.write(func(d *dataset) (err error) {
		cleared, err = d.deleteClip(id)
		return err
	})
	return cleared, err
}

func (m *memStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := m.read(func(d *dataset) error {
		v, ok = d.Settings[key]
		return nil
	})
	return v, ok, err
}

func (m *memStore) PutSetting(ctx context.Context, key, value string) error {
	return m.write(func(d *dataset) error { d.Settings[key] = value; return nil })
}

func (m *memStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	return m.write(func(*dataset) error {
		m.audit = append(m.audit, e)
		if len(m.audit) > memAuditCap {
			m.audit = append([]AuditEntry(nil), m.audit[len(m.audit)-memAuditCap:]...)
		}
		return nil
	})
}

func (m *memStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := m.read(func(*dataset) error {
		out = tail(m.audit, limit)
		return nil
	})
	return out, err
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// tail returns a copy of the last n entries, newest first. n <= 0 means all.
func tail(entries []AuditEntry, n int) []AuditEntry {
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]AuditEntry, 0, n)
	for i := len(entries) - 1; i >= len(entries)-n; i-- {
		out = append(out, entries[i])
	}
	return out
}
