package ratelimit_test

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually-advanced clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.Advance(d)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAdmitAtExactLimitBlocksNormalAdmitsHigh(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.New(60*time.Second, 115, clock, discardLogger())

	for i := 0; i < 115; i++ {
		require.True(t, lim.Admit(domain.PriorityNormal))
		lim.Record()
	}

	require.False(t, lim.Admit(domain.PriorityNormal))
	require.True(t, lim.Admit(domain.PriorityHigh))
}

func TestCooldownBlocksNormalButAdmitsHighWithoutShrinkingCooldown(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.New(60*time.Second, 115, clock, discardLogger())

	lim.Cooldown(30)
	require.False(t, lim.Admit(domain.PriorityNormal))
	require.False(t, lim.Admit(domain.PriorityLow))
	require.True(t, lim.Admit(domain.PriorityHigh))

	// record() on a high-priority admit must not touch the cooldown deadline.
	lim.Record()
	clock.Advance(29 * time.Second)
	require.False(t, lim.Admit(domain.PriorityNormal))

	clock.Advance(2 * time.Second)
	require.True(t, lim.Admit(domain.PriorityNormal))
}

func TestWindowEviction(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.New(60*time.Second, 2, clock, discardLogger())

	require.True(t, lim.Admit(domain.PriorityNormal))
	lim.Record()
	require.True(t, lim.Admit(domain.PriorityNormal))
	lim.Record()
	require.False(t, lim.Admit(domain.PriorityNormal))

	clock.Advance(61 * time.Second)
	require.True(t, lim.Admit(domain.PriorityNormal))
}

func TestUnknownPriorityTreatedAsNormal(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.New(60*time.Second, 1, clock, discardLogger())

	require.True(t, lim.Admit(domain.Priority("bogus")))
	lim.Record()
	require.False(t, lim.Admit(domain.Priority("bogus")))
}

func TestHighPriorityCooldownBypassIsLogged(t *testing.T) {
	clock := newFakeClock()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	lim := ratelimit.New(60*time.Second, 115, clock, logger)

	lim.Cooldown(30)
	require.True(t, lim.Admit(domain.PriorityHigh))
	require.Contains(t, logBuf.String(), "bypassing active cooldown")
}

func TestHighPriorityFullWindowBypassIsLogged(t *testing.T) {
	clock := newFakeClock()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	lim := ratelimit.New(60*time.Second, 1, clock, logger)

	require.True(t, lim.Admit(domain.PriorityNormal))
	lim.Record()
	require.True(t, lim.Admit(domain.PriorityHigh))
	require.Contains(t, logBuf.String(), "bypassing full window")
}
