package store

import (
	"context"
	"sync"
)

// KV is the durable key-value contract the session persistence sits on.
// PutAll must apply every entry or none of them.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	PutAll(ctx context.Context, entries map[string]string) error
	Close() error
}

// MemoryKV implements KV with a map, suitable for tests and throwaway runs.
type MemoryKV struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[key]
	return value, ok, nil
}

func (m *MemoryKV) PutAll(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range entries {
		m.items[key] = value
	}
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}

var _ KV = (*MemoryKV)(nil)
