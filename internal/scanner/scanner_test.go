package scanner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	instrumentsByExchange map[string][]domain.UIC
	instrumentsByKeyword  map[string][]domain.UIC
	infoPrices            []domain.InstrumentCandidate
	infoPricesErr         error
}

func (f *fakeGateway) FetchAccountKey(ctx context.Context) (string, error) { return "", nil }
func (f *fakeGateway) FetchCostEstimate(ctx context.Context, uic domain.UIC, qty, price float64, assetType string) (float64, error) {
	return 0, nil
}
func (f *fakeGateway) ListInstruments(ctx context.Context, exchangeOrKeyword string, byKeyword bool, assetType string) ([]domain.UIC, error) {
	if byKeyword {
		return f.instrumentsByKeyword[exchangeOrKeyword], nil
	}
	return f.instrumentsByExchange[exchangeOrKeyword], nil
}
func (f *fakeGateway) ListInfoPrices(ctx context.Context, uics []domain.UIC, assetType string) ([]domain.InstrumentCandidate, error) {
	if f.infoPricesErr != nil {
		return nil, f.infoPricesErr
	}
	return f.infoPrices, nil
}
func (f *fakeGateway) CreateInfoPriceSubscription(ctx context.Context, contextID, referenceID string, uics []domain.UIC, assetType string, refreshMS int) ([]domain.Quote, error) {
	return nil, nil
}
func (f *fakeGateway) DeleteInfoPriceSubscription(ctx context.Context, contextID, referenceID string) error {
	return nil
}
func (f *fakeGateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (bool, error) {
	return true, nil
}
func (f *fakeGateway) ListOpenOrders(ctx context.Context, accountKey string) ([]ports.OpenOrder, error) {
	return nil, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, orderID, accountKey string) error { return nil }
func (f *fakeGateway) ListPositions(ctx context.Context, accountKey string) ([]ports.BrokerPosition, error) {
	return nil, nil
}

type fakeStreamMgr struct {
	added []domain.UIC
}

func (f *fakeStreamMgr) Start(ctx context.Context, initialUICs []domain.UIC) error { return nil }
func (f *fakeStreamMgr) Add(uic domain.UIC) error {
	f.added = append(f.added, uic)
	return nil
}
func (f *fakeStreamMgr) Remove(uic domain.UIC) error          { return nil }
func (f *fakeStreamMgr) Prune(safeSet map[domain.UIC]bool)    {}
func (f *fakeStreamMgr) Latest(uic domain.UIC) (domain.Quote, bool) {
	return domain.Quote{}, false
}
func (f *fakeStreamMgr) Close() error { return nil }

type noopClock struct{}

func (noopClock) Now() time.Time                  { return time.Unix(1_700_000_000, 0) }
func (noopClock) Sleep(d time.Duration)            {}
func (noopClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Unix(1_700_000_000, 0)
	return ch
}

func TestLoadUniverseFallsBackToKeywordsWhenExchangesEmpty(t *testing.T) {
	gw := &fakeGateway{
		instrumentsByExchange: map[string][]domain.UIC{},
		instrumentsByKeyword:  map[string][]domain.UIC{"Apple": {211}, "Microsoft": {212}},
	}
	sc := New(gw, &fakeStreamMgr{}, nil, noopClock{}, []string{"NYSE", "NASDAQ"}, []string{"Apple", "Microsoft"}, discardLogger())

	err := sc.LoadUniverse(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.UIC{211, 212}, sc.universe)
}

func TestLoadUniversePrefersExchangeResults(t *testing.T) {
	gw := &fakeGateway{
		instrumentsByExchange: map[string][]domain.UIC{"NYSE": {1, 2}, "NASDAQ": {2, 3}},
	}
	sc := New(gw, &fakeStreamMgr{}, nil, noopClock{}, []string{"NYSE", "NASDAQ"}, nil, discardLogger())

	err := sc.LoadUniverse(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.UIC{1, 2, 3}, sc.universe)
}

func TestScanEnrollsOnlyHotCandidates(t *testing.T) {
	gw := &fakeGateway{
		infoPrices: []domain.InstrumentCandidate{
			{UIC: 1, LastTraded: 10.0, PercentChange: 2.0},  // hot
			{UIC: 2, LastTraded: 10.0, PercentChange: 0.5},  // not enough movement
			{UIC: 3, LastTraded: 25.0, PercentChange: 5.0},  // price out of range
			{UIC: 4, LastTraded: 1.0, PercentChange: 1.51},  // hot, boundary price
		},
	}
	mgr := &fakeStreamMgr{}
	sc := New(gw, mgr, nil, noopClock{}, nil, nil, discardLogger())
	sc.universe = []domain.UIC{1, 2, 3, 4}

	err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.UIC{1, 4}, mgr.added)
}

func TestScanAbortsOnRateLimitedError(t *testing.T) {
	gw := &fakeGateway{infoPricesErr: saxoerr.New(saxoerr.RateLimited, "slow down", nil)}
	mgr := &fakeStreamMgr{}
	sc := New(gw, mgr, nil, noopClock{}, nil, nil, discardLogger())
	sc.universe = []domain.UIC{1, 2, 3}

	err := sc.Scan(context.Background())
	require.Error(t, err)
	require.True(t, saxoerr.Is(err, saxoerr.RateLimited))
	require.Empty(t, mgr.added)
}

func TestScanSkipsBatchWhenLimiterDenies(t *testing.T) {
	gw := &fakeGateway{infoPrices: []domain.InstrumentCandidate{{UIC: 1, LastTraded: 5, PercentChange: 3}}}
	mgr := &fakeStreamMgr{}
	sc := New(gw, mgr, denyingLimiter{}, noopClock{}, nil, nil, discardLogger())
	sc.universe = []domain.UIC{1}

	err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, mgr.added)
}

type denyingLimiter struct{}

func (denyingLimiter) Admit(priority domain.Priority) bool { return false }
func (denyingLimiter) Record()                             {}
func (denyingLimiter) Cooldown(seconds int)                {}
