// Package executor implements component G: order placement gated by the
// Rate Limiter, dry-run simulation, and the kill switch (cancel every open
// order then flatten every open position).
//
// Grounded on original_source/src/executor.py's OrderExecutor.place_order
// (rate-limiter priority, dry-run short-circuit, 429 handling) and
// kill_switch/cancel_all_orders/close_all_positions (cancel-then-flatten
// sequencing, logging failures without aborting the other step), wired onto
// the REST Gateway (internal/saxoapi) from this module's 4.C.
package executor

import (
	"context"
	"log/slog"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
)

// Executor places and cancels orders through the REST Gateway.
type Executor struct {
	gateway    ports.BrokerGateway
	limiter    ports.RateLimiter
	logger     *slog.Logger
	dryRun     bool
	accountKey string
}

// New builds an Executor. accountKey is resolved once at startup via
// gateway.FetchAccountKey and passed in here rather than re-fetched per call.
func New(gateway ports.BrokerGateway, limiter ports.RateLimiter, dryRun bool, accountKey string, logger *slog.Logger) *Executor {
	if dryRun {
		logger.Warn("executor is in simulation mode (dry run); no real trades will be placed")
	}
	return &Executor{gateway: gateway, limiter: limiter, dryRun: dryRun, accountKey: accountKey, logger: logger}
}

// Place implements spec §4.G `place`: rate-limiter gate (high priority for
// Sell), dry-run short-circuit, else a real POST with 429 handling.
func (e *Executor) Place(ctx context.Context, uic domain.UIC, qty float64, side domain.Side, orderType string, price float64, assetType string) bool {
	priority := domain.PriorityNormal
	if side == domain.SideSell {
		priority = domain.PriorityHigh
	}
	if e.limiter != nil && !e.limiter.Admit(priority) {
		e.logger.Warn("order skipped due to rate limit", "uic", uic, "side", side)
		return false
	}

	req := ports.OrderRequest{
		UIC:          uic,
		AssetType:    assetType,
		Amount:       qty,
		BuySell:      side,
		OrderType:    orderType,
		OrderPrice:   price,
		AccountKey:   e.accountKey,
		DurationType: "DayOrder",
	}

	if e.dryRun {
		e.logger.Info("simulation: would place order", "uic", uic, "qty", qty, "side", side, "order_type", orderType)
		if e.limiter != nil {
			e.limiter.Record()
		}
		return true
	}

	ok, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		if saxoerr.Is(err, saxoerr.RateLimited) {
			e.logger.Error("rate limited placing order", "uic", uic, "error", err)
		} else {
			e.logger.Error("failed to place order", "uic", uic, "error", err)
		}
		return false
	}
	if ok {
		e.logger.Info("order placed", "uic", uic, "qty", qty, "side", side)
	}
	return ok
}

// KillSwitch implements spec §4.G `kill_switch`: cancel every open order,
// then flatten every nonzero-amount position with an opposing market order.
// Both steps log failures without aborting the other (original_source's
// kill_switch calls cancel_all_orders and close_all_positions unconditionally).
func (e *Executor) KillSwitch(ctx context.Context) {
	e.logger.Warn("kill switch activated")
	e.cancelAllOrders(ctx)
	e.closeAllPositions(ctx)
}

func (e *Executor) cancelAllOrders(ctx context.Context) {
	orders, err := e.gateway.ListOpenOrders(ctx, e.accountKey)
	if err != nil {
		e.logger.Error("kill switch: failed to list open orders", "error", err)
		return
	}
	for _, o := range orders {
		if err := e.gateway.CancelOrder(ctx, o.OrderID, e.accountKey); err != nil {
			e.logger.Error("kill switch: failed to cancel order", "order_id", o.OrderID, "error", err)
			continue
		}
		e.logger.Info("kill switch: cancelled order", "order_id", o.OrderID)
	}
}

func (e *Executor) closeAllPositions(ctx context.Context) {
	positions, err := e.gateway.ListPositions(ctx, e.accountKey)
	if err != nil {
		e.logger.Error("kill switch: failed to list positions", "error", err)
		return
	}
	for _, p := range positions {
		if p.Amount == 0 {
			continue
		}
		side := domain.SideSell
		if p.Amount < 0 {
			side = domain.SideBuy
		}
		absAmount := p.Amount
		if absAmount < 0 {
			absAmount = -absAmount
		}
		e.logger.Info("kill switch: closing position", "uic", p.UIC, "amount", p.Amount, "side", side)
		e.Place(ctx, p.UIC, absAmount, side, "Market", 0, "Stock")
	}
}
