// Package ratelimit decides whether a client may issue another request in the
// current window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults mirror the public API limits: 10 requests per minute per client.
const (
	DefaultMax     = 10
	DefaultWindow  = time.Minute
	DefaultIdleTTL = 10 * time.Minute
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects requests for a client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config holds rate limiter configuration.
type Config struct {
	Max     int
	Window  time.Duration
	IdleTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	return c
}

// Memory is a token-bucket limiter keyed by client. The bucket holds Max
// tokens and refills Max tokens per Window.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates a new in-process limiter.
func NewMemory(cfg Config, opts ...MemoryOption) *Memory {
	cfg = cfg.withDefaults()
	m := &Memory{
		entries: make(map[string]*entry),
		limit:   rate.Limit(float64(cfg.Max) / cfg.Window.Seconds()),
		burst:   cfg.Max,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow consumes a token for key when one is available.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	lim := m.get(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Limit: m.burst}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Limit: m.burst, RetryAfter: delay}, nil
	}
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: m.burst, Remaining: remaining}, nil
}

func (m *Memory) get(key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ent, ok := m.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(m.limit, m.burst)
	m.entries[key] = &entry{lim: lim, lastSeen: now}
	return lim
}

// Len reports how many client keys are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup forgets keys idle for longer than the idle TTL and returns how many
// were removed.
func (m *Memory) Cleanup() int {
	cutoff := m.now().Add(-m.idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, ent := range m.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Cleanup every interval until ctx ends.
func (m *Memory) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Cleanup()
			}
		}
	}()
}
