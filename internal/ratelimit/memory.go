package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count int
	reset time.Time
}

// MemoryLimiter is a fixed-window limiter over a process-local map. State is
// lost on restart, and in a horizontally scaled deployment each instance
// enforces its own independent cap; both are acceptable for abuse mitigation.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration

	stop chan struct{}
	once sync.Once
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	m := &MemoryLimiter{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
		stop:    make(chan struct{}),
	}

	go m.sweep()

	return m
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	e, exists := m.entries[key]
	if !exists || now.After(e.reset) {
		e = &entry{count: 1, reset: now.Add(m.window)}
		m.entries[key] = e
		return m.result(true, e), nil
	}

	if e.count < m.limit {
		e.count++
		return m.result(true, e), nil
	}

	return m.result(false, e), nil
}

func (m *MemoryLimiter) result(allowed bool, e *entry) Result {
	remaining := m.limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     m.limit,
		Remaining: remaining,
		Reset:     e.reset,
	}
}

func (m *MemoryLimiter) Limit() int {
	return m.limit
}

func (m *MemoryLimiter) Window() time.Duration {
	return m.window
}

// Close stops the background sweeper.
func (m *MemoryLimiter) Close() {
	m.once.Do(func() { close(m.stop) })
}

// sweep evicts entries whose window expired more than one full window ago, so
// sustained unique-session traffic cannot grow the map without bound.
func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			cutoff := time.Now().Add(-m.window)
			for key, e := range m.entries {
				if e.reset.Before(cutoff) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}
