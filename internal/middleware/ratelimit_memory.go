package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryRateLimiter keeps one token bucket per key in process memory.
// It is used when no redis is configured. Every algorithm maps to a token bucket.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*memoryEntry
	now      func() time.Time
	maxIdle  time.Duration
	lastGC   time.Time
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limiters: make(map[string]*memoryEntry),
		now:      time.Now,
		maxIdle:  10 * time.Minute,
	}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	now := m.now()
	window := config.window()
	if config.Limit <= 0 {
		return &RateLimitResult{Allowed: true, ResetAt: now.Add(window).Unix()}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.collect(now)
	entry, ok := m.limiters[key]
	if !ok {
		every := window / time.Duration(config.Limit)
		entry = &memoryEntry{limiter: rate.NewLimiter(rate.Every(every), config.Limit)}
		m.limiters[key] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(window).Unix(),
		Limit:     config.Limit,
	}, nil
}

// collect drops limiters idle for longer than maxIdle, at most once per maxIdle.
func (m *MemoryRateLimiter) collect(now time.Time) {
	if now.Sub(m.lastGC) < m.maxIdle {
		return
	}
	m.lastGC = now
	for key, entry := range m.limiters {
		if now.Sub(entry.lastSeen) > m.maxIdle {
			delete(m.limiters, key)
		}
	}
}
