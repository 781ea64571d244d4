package kv

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline int64
}

// MemoryBackend is an in-memory implementation of Backend
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the stored value
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || expired(m.now(), entry.deadline) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a copy of value
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: stored, deadline: expiry(m.now(), ttl)}
	return nil
}

// Delete removes key if present
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Ping always succeeds
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close is a no-op
func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of stored keys, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
