package substrate

import (
	"context"
	"sync"
)

// Write is one committed mutation. A Delete write removes Key.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend is the durable key/value state behind a Host.
// Commit must apply the whole batch or nothing.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Commit(ctx context.Context, writes []Write) error
}

// EventBackend is a Backend that records a call's events durably. The host
// hands it the events together with the writes; both must be applied in the
// same atomic batch.
type EventBackend interface {
	Backend
	CommitEvents(ctx context.Context, writes []Write, events []Event) error
}

// MemoryBackend is an in-memory Backend.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryBackend) Commit(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if w.Delete {
			delete(m.data, w.Key)
			continue
		}
		m.data[w.Key] = append([]byte(nil), w.Value...)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
