package dedup

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Expired IDs are swept lazily while marking.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	expires   map[string]time.Time
	nextSweep time.Time
}

// NewMemory creates a Memory store. A zero ttl means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, expires: make(map[string]time.Time)}
}

func (m *Memory) MarkSeen(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.After(m.nextSweep) {
		for k, exp := range m.expires {
			if !now.Before(exp) {
				delete(m.expires, k)
			}
		}
		m.nextSweep = now.Add(m.ttl / 4)
	}
	if exp, ok := m.expires[id]; ok && now.Before(exp) {
		return true, nil
	}
	m.expires[id] = now.Add(m.ttl)
	return false, nil
}

func (m *Memory) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.expires, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of remembered IDs, including expired ones not yet
// swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
