package tokenstore

import (
	"context"
	"maps"
	"sync"
)

// MemoryBackend keeps values in process memory. SecureStore also uses one as
// its best-effort fallback when the primary backend fails.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Apply(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maps.Copy(m.values, b.Set)
	for _, key := range b.Delete {
		delete(m.values, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *MemoryBackend) Close() error { return nil }
