package storage

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend. A positive quota makes writes that would push
// BytesInUse past it fail with ErrQuotaExceeded.
type MemoryBackend struct {
	area  Area
	quota int64

	mu       sync.RWMutex
	data     Items
	watchers []ChangeFunc

	// FailNext makes the next operation return this error once. Test hook.
	failMu   sync.Mutex
	failNext error
}

// NewMemoryBackend returns an empty backend for area. quota <= 0 means unlimited.
func NewMemoryBackend(area Area, quota int64) *MemoryBackend {
	return &MemoryBackend{area: area, quota: quota, data: make(Items)}
}

func (m *MemoryBackend) Area() Area { return m.area }

// FailNext arranges for the next call to return err.
func (m *MemoryBackend) FailNext(err error) {
	m.failMu.Lock()
	m.failNext = err
	m.failMu.Unlock()
}

func (m *MemoryBackend) takeFailure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MemoryBackend) Get(ctx context.Context, keys []string) (Items, error) {
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Items)
	if keys == nil {
		for k, v := range m.data {
			out[k] = v
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryBackend) Set(ctx context.Context, items Items) error {
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.quota > 0 {
		var total int64
		for k, v := range m.data {
			if _, replaced := items[k]; !replaced {
				total += ItemSize(k, v)
			}
		}
		for k, v := range items {
			total += ItemSize(k, v)
		}
		if total > m.quota {
			m.mu.Unlock()
			return ErrQuotaExceeded
		}
	}
	changes := diff(m.data, items)
	for k, v := range items {
		m.data[k] = v
	}
	watchers := m.watchers
	m.mu.Unlock()

	m.notify(watchers, changes)
	return nil
}

func (m *MemoryBackend) Remove(ctx context.Context, keys []string) error {
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.mu.Lock()
	changes := make(Changes)
	for _, k := range keys {
		if old, ok := m.data[k]; ok {
			changes[k] = Change{OldValue: old}
			delete(m.data, k)
		}
	}
	watchers := m.watchers
	m.mu.Unlock()

	m.notify(watchers, changes)
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context) error {
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.mu.Lock()
	changes := make(Changes, len(m.data))
	for k, v := range m.data {
		changes[k] = Change{OldValue: v}
	}
	m.data = make(Items)
	watchers := m.watchers
	m.mu.Unlock()

	m.notify(watchers, changes)
	return nil
}

func (m *MemoryBackend) BytesInUse(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for k, v := range m.data {
		n += ItemSize(k, v)
	}
	return n, nil
}

func (m *MemoryBackend) Watch(fn ChangeFunc) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

func (m *MemoryBackend) notify(watchers []ChangeFunc, changes Changes) {
	if len(changes) == 0 {
		return
	}
	for _, fn := range watchers {
		fn(m.area, changes)
	}
}
