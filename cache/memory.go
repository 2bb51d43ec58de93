// Package cache holds answered questions so repeated questions skip the model call.
package cache

import (
	"context"
	"sync"
	"time"
)

const DefaultMaxEntries = 100

type entry struct {
	value   string
	expires time.Time
}

// Memory is a bounded in-process cache. When full, the oldest insertion is evicted.
type Memory struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	items map[string]entry
	order []string
}

func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		items:      make(map[string]entry, maxEntries),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.items, key)
		m.dropOrder(key)
		return "", false
	}
	return e.value, true
}

// dropOrder removes key from the insertion order so a later Set starts it fresh.
func (m *Memory) dropOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Memory) Set(_ context.Context, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}

	if _, exists := m.items[key]; !exists {
		m.order = append(m.order, key)
	}
	m.items[key] = entry{value: value, expires: expires}

	for len(m.items) > m.maxEntries && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.items, oldest)
	}
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
