// Package cache provides a small TTL cache for the expensive aggregate reads
// (statistics and compliance reports). The ledger is append-only, so a short
// TTL is the only invalidation needed.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores marshalled report payloads under string keys.
type Cache interface {
	// Get returns the cached payload and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Memory is a process-local Cache used by tests and single-node setups.
type Memory struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{clock: time.Now, entries: make(map[string]memoryEntry)}
}

// WithClock overrides the expiry clock for tests.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || m.clock().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.clock().Add(ttl),
	}
	return nil
}
