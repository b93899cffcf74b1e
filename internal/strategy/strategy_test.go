package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedCostOracle mirrors the spec §8 seed scenario's commission formula:
// max(1.0, 0.001 × qty × price).
type fixedCostOracle struct{}

func (fixedCostOracle) FetchCostEstimate(_ context.Context, _ domain.UIC, qty, price float64, _ string) (float64, error) {
	cost := 0.001 * qty * price
	if cost < 1.0 {
		return 1.0, nil
	}
	return cost, nil
}

func TestCalculateEMAMatchesFlatThenRisingSeries(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	shortEMA := calculateEMA(flat, shortPeriod)
	longEMA := calculateEMA(flat, longPeriod)
	require.InDelta(t, shortEMA, longEMA, 1e-9) // flat series: no crossover

	rising := append(append([]float64(nil), flat...), 101, 102, 103, 104, 105, 106, 107, 108, 109, 110)
	shortEMA = calculateEMA(rising, shortPeriod)
	longEMA = calculateEMA(rising, longPeriod)
	require.Greater(t, shortEMA, longEMA)
}

func TestNetProfitWinningUSDTrade(t *testing.T) {
	commission := 0.001 * 10 * 100.25
	net := netProfit(100, 100.5, 10, commission, 1.0, "USD", "USD", true)
	require.InDelta(t, 3.495, net, 0.001)
}

func TestNetProfitFXLossBlocksProfit(t *testing.T) {
	fxRate := 0.9
	commission := 0.0 // irrelevant to the veto direction in this scenario
	net := netProfit(100, 100.5, 100, commission, fxRate, "USD", "EUR", true)
	require.Less(t, net, 0.0)
}

func TestStrategyEntrySignalRequiresFullHistoryWindow(t *testing.T) {
	strat := New(fixedCostOracle{}, state.NewMemStore(), 0.01, 10, "USD", "USD", discardLogger())
	ctx := context.Background()

	// Rising prices would put the short EMA above the long one; with fewer
	// than longPeriod samples no entry may fire anyway.
	for i := 0; i < longPeriod-1; i++ {
		signal := strat.Update(ctx, 211, 100+float64(i))
		require.Equal(t, domain.SignalNone, signal)
	}
}

func TestStrategyEmitsBuyOnCrossoverThenSellOnProfitableStop(t *testing.T) {
	strat := New(fixedCostOracle{}, state.NewMemStore(), 0.01, 10, "USD", "USD", discardLogger())
	ctx := context.Background()

	for i := 0; i < longPeriod; i++ {
		signal := strat.Update(ctx, 211, 100)
		require.Equal(t, domain.SignalNone, signal)
	}

	var buySignal domain.Signal
	prices := []float64{101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	for _, p := range prices {
		s := strat.Update(ctx, 211, p)
		if s == domain.SignalBuy {
			buySignal = s
			break
		}
	}
	require.Equal(t, domain.SignalBuy, buySignal)

	positions := strat.Positions()
	pos, ok := positions[211]
	require.True(t, ok)
	require.Equal(t, pos.EntryPrice, pos.PeakPrice)

	// Drive price down through the trailing stop; profit guard should pass
	// since the entry price was well below peak.
	for _, p := range []float64{109, 105, 100} {
		sig := strat.Update(ctx, 211, p)
		if sig == domain.SignalSell {
			_, stillOpen := strat.Positions()[211]
			require.False(t, stillOpen)
			return
		}
	}
	t.Fatal("expected a SELL signal once the trailing stop was breached")
}

func TestStrategyPersistsAndRehydratesPosition(t *testing.T) {
	store := state.NewMemStore()
	ctx := context.Background()

	strat := New(fixedCostOracle{}, store, 0.01, 10, "USD", "USD", discardLogger())
	for i := 0; i < longPeriod; i++ {
		strat.Update(ctx, 211, 100)
	}
	prices := []float64{101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	for _, p := range prices {
		if strat.Update(ctx, 211, p) == domain.SignalBuy {
			break
		}
	}
	_, ok := strat.Positions()[211]
	require.True(t, ok)

	rehydrated := New(fixedCostOracle{}, store, 0.01, 10, "USD", "USD", discardLogger())
	require.NoError(t, rehydrated.LoadState(ctx))

	pos, ok := rehydrated.Positions()[211]
	require.True(t, ok)
	require.Equal(t, domain.UIC(211), pos.UIC)
}
