package lockcache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Cache for single-replica deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is swappable for tests.
	now func() time.Time
}

type memoryEntry struct {
	value    string
	deadline time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the cache clock. Test use only.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	if _, exists := m.entries[key]; exists {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, deadline: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	entry, exists := m.entries[key]
	if !exists {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// sweepLocked drops expired entries. Called with mu held; the map only
// ever holds a handful of lock keys so a full scan is fine.
func (m *Memory) sweepLocked() {
	now := m.now()
	for key, entry := range m.entries {
		if now.After(entry.deadline) {
			delete(m.entries, key)
		}
	}
}
