// Package cache provides the expiring key/value cache injected into services
// that memoize lookups.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is safe for concurrent use by implementations.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	// Sweep drops expired entries and returns how many were removed.
	Sweep() int
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-process Cache guarded by a RWMutex.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (m *Memory) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		m.Delete(key)
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Janitor sweeps c every interval until ctx is done.
func Janitor(ctx context.Context, c Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(string) (any, bool)         { return nil, false }
func (Nop) Set(string, any, time.Duration) {}
func (Nop) Delete(string)                  {}
func (Nop) Sweep() int                     { return 0 }
