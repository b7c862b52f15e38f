package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count       int64
	windowStart time.Time
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Incr(ctx context.Context, addr string, windowStart time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[addr]
	if !ok || !e.windowStart.Equal(windowStart) {
		e = &memoryEntry{windowStart: windowStart}
		m.entries[addr] = e
	}
	e.count++
	return e.count, nil
}

func (m *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for addr, e := range m.entries {
		if e.windowStart.Before(before) {
			delete(m.entries, addr)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live counters.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	return nil
}
