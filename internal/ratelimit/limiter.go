// Package ratelimit implements component B, the sliding-window priority
// dispatcher. No teacher equivalent exists; the internal-mutex-around-a-deque
// shape is grounded on the general pattern already used by the teacher's
// SubscriptionManager/ConnectionManager structs (adapter/websocket) for
// guarding shared mutable state.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
)

const (
	// DefaultWindow is W in spec §3 — 60 seconds.
	DefaultWindow = 60 * time.Second
	// DefaultLimit is spec §4.B's default: broker cap 120, margin 5.
	DefaultLimit = 115
)

// Limiter implements ports.RateLimiter.
type Limiter struct {
	window time.Duration
	limit  int
	clock  ports.Clock
	logger *slog.Logger

	mu            sync.Mutex
	timestamps    []time.Time
	cooldownUntil time.Time
}

// New builds a Limiter with the given window/limit and clock.
func New(window time.Duration, limit int, clock ports.Clock, logger *slog.Logger) *Limiter {
	return &Limiter{window: window, limit: limit, clock: clock, logger: logger}
}

// NewDefault builds a Limiter using the spec's default window/limit.
func NewDefault(clock ports.Clock, logger *slog.Logger) *Limiter {
	return New(DefaultWindow, DefaultLimit, clock, logger)
}

// Admit implements the policy from spec §4.B: a high-priority call bypasses
// an active cooldown or a full window, but the bypass is logged.
func (l *Limiter) Admit(priority domain.Priority) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	high := priority == domain.PriorityHigh

	if now.Before(l.cooldownUntil) {
		// High-priority admits never shrink the cooldown; they just bypass it.
		if high {
			l.logger.Warn("rate limiter: high-priority call bypassing active cooldown", "cooldown_until", l.cooldownUntil)
		}
		return high
	}

	l.evict(now)
	if len(l.timestamps) >= l.limit {
		if high {
			l.logger.Warn("rate limiter: high-priority call bypassing full window", "window_count", len(l.timestamps), "limit", l.limit)
		}
		return high
	}
	return true
}

// Record appends the current timestamp to the admitted-calls window. Callers
// record only calls they actually made (admit() does not imply record()).
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = append(l.timestamps, l.clock.Now())
}

// Cooldown sets a hard cooldown deadline `seconds` from now, typically fed
// from a 429 response's Retry-After header.
func (l *Limiter) Cooldown(seconds int) {
	if seconds <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.clock.Now().Add(time.Duration(seconds) * time.Second)
	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
}

// evict drops timestamps older than now-window. Caller holds l.mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(l.timestamps); i++ {
		if l.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.timestamps = l.timestamps[i:]
	}
}
