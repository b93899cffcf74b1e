package streaming

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bjoelf/saxotrader/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubGateway struct {
	mu            sync.Mutex
	subscribeCt   map[domain.UIC]int
	unsubscribeCt map[domain.UIC]int
}

func newFakeSubGateway() *fakeSubGateway {
	return &fakeSubGateway{subscribeCt: map[domain.UIC]int{}, unsubscribeCt: map[domain.UIC]int{}}
}

func (f *fakeSubGateway) CreateInfoPriceSubscription(_ context.Context, _, _ string, uics []domain.UIC, _ string, _ int) ([]domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range uics {
		f.subscribeCt[u]++
	}
	return nil, nil
}

func (f *fakeSubGateway) DeleteInfoPriceSubscription(_ context.Context, _, referenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = referenceID
	return nil
}

func (f *fakeSubGateway) count(uic domain.UIC) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCt[uic]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Unix(1_700_000_000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *testClock) Sleep(d time.Duration) { c.advance(d) }
func (c *testClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.advance(d)
	ch <- c.Now()
	return ch
}
func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(gw SubscriptionGateway, clock *testClock) *Manager {
	return New(gw, nil, clock, nil, "wss://example/streaming/ws", "saxotrader", "saxotrader", discardLogger())
}

func TestAddIsIdempotent(t *testing.T) {
	gw := newFakeSubGateway()
	m := newTestManager(gw, newTestClock())

	require.NoError(t, m.Add(10))
	require.NoError(t, m.Add(10))

	require.Equal(t, 1, gw.count(10))
	_, ok := m.ledger[10]
	require.True(t, ok)
	require.Len(t, m.ledger, 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	gw := newFakeSubGateway()
	m := newTestManager(gw, newTestClock())

	require.NoError(t, m.Add(10))
	require.NoError(t, m.Remove(10))
	require.NoError(t, m.Remove(10)) // no-op, must not error or panic

	require.Len(t, m.ledger, 0)
}

func TestPruneRespectsSafeSet(t *testing.T) {
	gw := newFakeSubGateway()
	clock := newTestClock()
	m := newTestManager(gw, clock)

	require.NoError(t, m.Add(10))
	require.NoError(t, m.Add(20))
	require.NoError(t, m.Add(30))

	clock.advance(61 * time.Minute)

	m.Prune(map[domain.UIC]bool{20: true})

	require.Len(t, m.ledger, 1)
	_, ok := m.ledger[20]
	require.True(t, ok)
}

func TestPruneLeavesFreshSubscriptionsAlone(t *testing.T) {
	gw := newFakeSubGateway()
	clock := newTestClock()
	m := newTestManager(gw, clock)

	require.NoError(t, m.Add(10))
	clock.advance(5 * time.Minute)

	m.Prune(map[domain.UIC]bool{})

	require.Len(t, m.ledger, 1)
}

func TestLatestReturnsStoredQuote(t *testing.T) {
	gw := newFakeSubGateway()
	m := newTestManager(gw, newTestClock())

	m.storeQuotes([]domain.Quote{{UIC: 1, LastPrice: 5.5, UpdatedAt: time.Now()}})
	q, ok := m.Latest(1)
	require.True(t, ok)
	require.Equal(t, 5.5, q.LastPrice)

	_, ok = m.Latest(2)
	require.False(t, ok)
}
