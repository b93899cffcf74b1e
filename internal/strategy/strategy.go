// Package strategy implements component F: the per-instrument EMA entry /
// trailing-stop exit / profit-guard veto state machine, with persistence to
// the State Store so open positions survive a restart.
//
// Grounded on original_source/src/strategy.py's TrendFollower
// (_check_entry_signal, _check_exit_signal, _load_state/_save_state/_delete_state)
// and original_source/src/account_info.py's evaluate_trade/calculate_net_profit
// for the profit-guard formula. State persistence follows internal/state's
// `saxotrader:position:{uic}` key shape from this module's State Store.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/state"
)

const (
	shortPeriod = 5
	longPeriod  = 20

	// priceHistoryCap mirrors original_source's deque(maxlen=30): a little
	// headroom above longPeriod so the EMA always has its full window.
	priceHistoryCap = 30

	defaultStopLossPct = 0.01
)

// Strategy holds the per-UIC position state machine.
type Strategy struct {
	costOracle ports.CostOracle
	fx         FXRateProvider
	store      ports.StateStore
	logger     *slog.Logger

	stopLossPct    float64
	tradeQuantity  float64
	instrumentCcy  string
	accountCcy     string

	mu            sync.Mutex
	positions     map[domain.UIC]*domain.Position
	priceHistory  map[domain.UIC][]float64
}

// New builds a Strategy. stopLossPct <= 0 falls back to the spec default (0.01).
func New(costOracle ports.CostOracle, store ports.StateStore, stopLossPct, tradeQuantity float64, instrumentCcy, accountCcy string, logger *slog.Logger) *Strategy {
	if stopLossPct <= 0 {
		stopLossPct = defaultStopLossPct
	}
	return &Strategy{
		costOracle:    costOracle,
		fx:            StaticFXRates{},
		store:         store,
		logger:        logger,
		stopLossPct:   stopLossPct,
		tradeQuantity: tradeQuantity,
		instrumentCcy: instrumentCcy,
		accountCcy:    accountCcy,
		positions:     make(map[domain.UIC]*domain.Position),
		priceHistory:  make(map[domain.UIC][]float64),
	}
}

// LoadState rehydrates the position map from `saxotrader:position:*` keys
// on startup (spec §4.F "Persistence": "orphan recovery after crash").
func (s *Strategy) LoadState(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, state.KeyPositionPrefix+"*")
	if err != nil {
		return fmt.Errorf("list position keys: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var pos domain.Position
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			s.logger.Error("failed to decode persisted position", "key", key, "error", err)
			continue
		}
		s.positions[pos.UIC] = &pos
		s.logger.Info("restored orphaned position", "uic", pos.UIC, "entry_price", pos.EntryPrice, "peak_price", pos.PeakPrice)
	}
	return nil
}

// Update is called on every fresh price for uic. Returns the signal the
// orchestrator should act on.
func (s *Strategy) Update(ctx context.Context, uic domain.UIC, currentPrice float64) domain.Signal {
	s.mu.Lock()
	s.priceHistory[uic] = appendCapped(s.priceHistory[uic], currentPrice, priceHistoryCap)
	_, hasPosition := s.positions[uic]
	s.mu.Unlock()

	if hasPosition {
		return s.checkExit(ctx, uic, currentPrice)
	}
	return s.checkEntry(ctx, uic, currentPrice)
}

// checkEntry implements spec §4.F "Flat": level-triggered EMA crossover
// (kept per the Open Questions resolution — no prior-sample state needed).
func (s *Strategy) checkEntry(ctx context.Context, uic domain.UIC, currentPrice float64) domain.Signal {
	s.mu.Lock()
	history := append([]float64(nil), s.priceHistory[uic]...)
	s.mu.Unlock()

	if len(history) < longPeriod {
		return domain.SignalNone
	}

	shortEMA := calculateEMA(history, shortPeriod)
	longEMA := calculateEMA(history, longPeriod)
	if shortEMA <= longEMA {
		return domain.SignalNone
	}

	pos := &domain.Position{UIC: uic, EntryPrice: currentPrice, Quantity: s.tradeQuantity, PeakPrice: currentPrice}
	s.mu.Lock()
	s.positions[uic] = pos
	s.mu.Unlock()

	s.logger.Info("entry signal", "uic", uic, "short_ema", shortEMA, "long_ema", longEMA, "entry_price", currentPrice)
	if err := s.persist(ctx, pos); err != nil {
		s.logger.Error("failed to persist new position", "uic", uic, "error", err)
	}
	return domain.SignalBuy
}

// checkExit implements spec §4.F "Long": trailing-peak update, stop
// calculation, and the profit-guard veto on stop breach.
func (s *Strategy) checkExit(ctx context.Context, uic domain.UIC, currentPrice float64) domain.Signal {
	s.mu.Lock()
	pos, ok := s.positions[uic]
	s.mu.Unlock()
	if !ok {
		return domain.SignalNone
	}

	if currentPrice > pos.PeakPrice {
		s.mu.Lock()
		pos.PeakPrice = currentPrice
		s.mu.Unlock()
		if err := s.persist(ctx, pos); err != nil {
			s.logger.Error("failed to persist peak update", "uic", uic, "error", err)
		}
	}

	stop := pos.PeakPrice * (1.0 - s.stopLossPct)
	if currentPrice > stop {
		return domain.SignalNone
	}

	s.logger.Warn("trailing stop hit", "uic", uic, "price", currentPrice, "stop", stop)

	commission, err := s.costOracle.FetchCostEstimate(ctx, uic, pos.Quantity, (pos.EntryPrice+currentPrice)/2, "Stock")
	if err != nil {
		s.logger.Error("cost oracle failed; holding position", "uic", uic, "error", err)
		return domain.SignalNone
	}
	fxRate := s.fx.Rate(s.instrumentCcy, s.accountCcy)
	net := netProfit(pos.EntryPrice, currentPrice, pos.Quantity, commission, fxRate, s.instrumentCcy, s.accountCcy, true)

	if net <= 0 {
		s.logger.Warn("profit guard veto: stop hit but audit fails", "uic", uic, "net", net)
		return domain.SignalNone
	}

	s.logger.Info("profit guard passed; executing sell", "uic", uic, "net", net)
	s.mu.Lock()
	delete(s.positions, uic)
	s.mu.Unlock()
	if err := s.deleteState(ctx, uic); err != nil {
		s.logger.Error("failed to delete persisted position", "uic", uic, "error", err)
	}
	return domain.SignalSell
}

// Positions returns a snapshot copy of the open position map (for the
// Reporter; spec §4.I "Snapshots the strategy's position map").
func (s *Strategy) Positions() map[domain.UIC]domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.UIC]domain.Position, len(s.positions))
	for uic, pos := range s.positions {
		out[uic] = *pos
	}
	return out
}

func (s *Strategy) persist(ctx context.Context, pos *domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return s.store.Set(ctx, state.PositionKey(int64(pos.UIC)), string(data))
}

func (s *Strategy) deleteState(ctx context.Context, uic domain.UIC) error {
	return s.store.Delete(ctx, state.PositionKey(int64(uic)))
}

func appendCapped(history []float64, price float64, limit int) []float64 {
	history = append(history, price)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
