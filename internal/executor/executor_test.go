package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	placeOrderCalls []ports.OrderRequest
	openOrders      []ports.OpenOrder
	positions       []ports.BrokerPosition
	cancelledOrders []string
	cancelErr       error
	placeErr        error
	placeOK         bool
}

func (f *fakeGateway) FetchAccountKey(ctx context.Context) (string, error) { return "ACC1", nil }
func (f *fakeGateway) FetchCostEstimate(ctx context.Context, uic domain.UIC, qty, price float64, assetType string) (float64, error) {
	return 0, nil
}
func (f *fakeGateway) ListInstruments(ctx context.Context, exchangeOrKeyword string, byKeyword bool, assetType string) ([]domain.UIC, error) {
	return nil, nil
}
func (f *fakeGateway) ListInfoPrices(ctx context.Context, uics []domain.UIC, assetType string) ([]domain.InstrumentCandidate, error) {
	return nil, nil
}
func (f *fakeGateway) CreateInfoPriceSubscription(ctx context.Context, contextID, referenceID string, uics []domain.UIC, assetType string, refreshMS int) ([]domain.Quote, error) {
	return nil, nil
}
func (f *fakeGateway) DeleteInfoPriceSubscription(ctx context.Context, contextID, referenceID string) error {
	return nil
}
func (f *fakeGateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (bool, error) {
	f.placeOrderCalls = append(f.placeOrderCalls, req)
	if f.placeErr != nil {
		return false, f.placeErr
	}
	return f.placeOK, nil
}
func (f *fakeGateway) ListOpenOrders(ctx context.Context, accountKey string) ([]ports.OpenOrder, error) {
	return f.openOrders, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, orderID, accountKey string) error {
	f.cancelledOrders = append(f.cancelledOrders, orderID)
	return f.cancelErr
}
func (f *fakeGateway) ListPositions(ctx context.Context, accountKey string) ([]ports.BrokerPosition, error) {
	return f.positions, nil
}

type allowAllLimiter struct {
	records    int
	priorities []domain.Priority
}

func (a *allowAllLimiter) Admit(priority domain.Priority) bool {
	a.priorities = append(a.priorities, priority)
	return true
}
func (a *allowAllLimiter) Record()                              { a.records++ }
func (a *allowAllLimiter) Cooldown(seconds int)                {}

type denyLimiter struct{}

func (denyLimiter) Admit(priority domain.Priority) bool { return false }
func (denyLimiter) Record()                             {}
func (denyLimiter) Cooldown(seconds int)                {}

func TestPlaceInDryRunRecordsLimiterCallAndReturnsTrueWithoutHittingGateway(t *testing.T) {
	gw := &fakeGateway{}
	limiter := &allowAllLimiter{}
	exec := New(gw, limiter, true, "ACC1", discardLogger())

	ok := exec.Place(context.Background(), 1, 10, domain.SideBuy, "Market", 0, "Stock")
	require.True(t, ok)
	require.Equal(t, 1, limiter.records)
	require.Empty(t, gw.placeOrderCalls)
}

func TestPlaceReturnsFalseWhenLimiterDenies(t *testing.T) {
	gw := &fakeGateway{}
	exec := New(gw, denyLimiter{}, false, "ACC1", discardLogger())

	ok := exec.Place(context.Background(), 1, 10, domain.SideBuy, "Market", 0, "Stock")
	require.False(t, ok)
	require.Empty(t, gw.placeOrderCalls)
}

func TestPlaceLiveCallsGatewayWithHighPriorityForSell(t *testing.T) {
	gw := &fakeGateway{placeOK: true}
	limiter := &allowAllLimiter{}
	exec := New(gw, limiter, false, "ACC1", discardLogger())

	ok := exec.Place(context.Background(), 1, 10, domain.SideSell, "Market", 0, "Stock")
	require.True(t, ok)
	require.Equal(t, []domain.Priority{domain.PriorityHigh}, limiter.priorities)
	require.Len(t, gw.placeOrderCalls, 1)
	require.Equal(t, domain.SideSell, gw.placeOrderCalls[0].BuySell)
}

func TestKillSwitchCancelsOrdersThenFlattensPositions(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []ports.OpenOrder{{OrderID: "o1", UIC: 1}, {OrderID: "o2", UIC: 2}},
		positions: []ports.BrokerPosition{
			{UIC: 1, Amount: 10},  // long -> sell
			{UIC: 2, Amount: -5},  // short -> buy
			{UIC: 3, Amount: 0},   // flat -> skipped
		},
		placeOK: true,
	}
	limiter := &allowAllLimiter{}
	exec := New(gw, limiter, false, "ACC1", discardLogger())

	exec.KillSwitch(context.Background())

	require.ElementsMatch(t, []string{"o1", "o2"}, gw.cancelledOrders)
	require.Len(t, gw.placeOrderCalls, 2)

	byUIC := map[domain.UIC]ports.OrderRequest{}
	for _, c := range gw.placeOrderCalls {
		byUIC[c.UIC] = c
	}
	require.Equal(t, domain.SideSell, byUIC[1].BuySell)
	require.Equal(t, 10.0, byUIC[1].Amount)
	require.Equal(t, domain.SideBuy, byUIC[2].BuySell)
	require.Equal(t, 5.0, byUIC[2].Amount)
}

func TestKillSwitchContinuesAfterCancelFailureOnOneOrder(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []ports.OpenOrder{{OrderID: "o1", UIC: 1}},
		positions:  []ports.BrokerPosition{{UIC: 1, Amount: 10}},
		cancelErr:  errors.New("cancel rejected"),
		placeOK:    true,
	}
	limiter := &allowAllLimiter{}
	exec := New(gw, limiter, false, "ACC1", discardLogger())

	exec.KillSwitch(context.Background())

	require.Len(t, gw.cancelledOrders, 1)
	require.Len(t, gw.placeOrderCalls, 1) // closeAllPositions still runs
}
