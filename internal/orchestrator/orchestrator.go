// Package orchestrator implements component H: the cooperative scheduler
// that runs the Scanner, Stream Processor, Janitor and Reporter as four
// periodic tasks plus the WebSocket supervisor, all in one process.
//
// The teacher has no direct equivalent orchestrator; the supervised-loop
// shape (context-cancellation-driven shutdown, done-channel bookkeeping) is
// generalized from adapter/websocket/saxo_websocket.go's
// handleReconnectionRequests/Close, scaled from "one supervised WebSocket
// loop" to "four supervised periodic tasks plus the WebSocket supervisor."
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/events"
	"github.com/bjoelf/saxotrader/internal/executor"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/reporter"
	"github.com/bjoelf/saxotrader/internal/scanner"
	"github.com/bjoelf/saxotrader/internal/state"
	"github.com/bjoelf/saxotrader/internal/strategy"
)

const (
	scanInterval     = 600 * time.Second
	streamInterval   = 100 * time.Millisecond
	janitorInterval  = 3600 * time.Second
	reporterInterval = 60 * time.Second

	shutdownGracePeriod = 5 * time.Second
	workerPoolSize      = 5
)

// Orchestrator wires the Scanner, Streaming Manager, Strategy, Executor and
// Reporter into the four periodic tasks described in spec §4.H.
type Orchestrator struct {
	scanner   *scanner.Scanner
	streamMgr ports.StreamingManager
	strategy  *strategy.Strategy
	executor  *executor.Executor
	reporter  *reporter.Reporter
	publisher *events.Publisher
	store     ports.StateStore
	logger    *slog.Logger

	workerSem chan struct{}

	mu       sync.Mutex
	watched  map[domain.UIC]bool
	owned    map[domain.UIC]bool
	lastSeen map[domain.UIC]time.Time
}

// New builds an Orchestrator.
func New(sc *scanner.Scanner, streamMgr ports.StreamingManager, strat *strategy.Strategy, exec *executor.Executor, rep *reporter.Reporter, publisher *events.Publisher, store ports.StateStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scanner:   sc,
		streamMgr: streamMgr,
		strategy:  strat,
		executor:  exec,
		reporter:  rep,
		publisher: publisher,
		store:     store,
		logger:    logger,
		workerSem: make(chan struct{}, workerPoolSize),
		watched:   make(map[domain.UIC]bool),
		owned:     make(map[domain.UIC]bool),
		lastSeen:  make(map[domain.UIC]time.Time),
	}
}

// Run starts the four periodic tasks and blocks until ctx is cancelled,
// then performs graceful shutdown (spec §4.H "Shutdown").
func (o *Orchestrator) Run(ctx context.Context, initialUICs []domain.UIC) error {
	for _, u := range initialUICs {
		o.mu.Lock()
		o.watched[u] = true
		o.mu.Unlock()
	}

	if err := o.scanner.LoadUniverse(ctx); err != nil {
		o.logger.Error("failed to load scanner universe", "error", err)
	}
	if err := o.streamMgr.Start(ctx, initialUICs); err != nil {
		o.logger.Error("failed to start streaming manager", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go o.runPeriodic(ctx, &wg, "scanner", scanInterval, o.runScannerTick)
	go o.runPeriodic(ctx, &wg, "stream-processor", streamInterval, o.runStreamProcessorTick)
	go o.runPeriodic(ctx, &wg, "janitor", janitorInterval, o.runJanitorTick)
	go o.runPeriodic(ctx, &wg, "reporter", reporterInterval, o.runReporterTick)

	<-ctx.Done()
	o.logger.Info("shutdown signal received; waiting for periodic tasks to finish")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		o.logger.Warn("shutdown grace period elapsed; proceeding anyway")
	}

	o.persistOpenPositions(context.Background())
	if err := o.streamMgr.Close(); err != nil {
		o.logger.Error("failed to close streaming manager", "error", err)
	}
	if err := o.store.Close(); err != nil {
		o.logger.Error("failed to close state store", "error", err)
	}
	return nil
}

// runPeriodic runs fn every interval until ctx is cancelled, observing
// cancellation at the sleep boundary (spec §5 "Suspension points").
func (o *Orchestrator) runPeriodic(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, fn func(context.Context)) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("periodic task stopping", "task", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runScannerTick runs one scanner scan on the bounded worker pool and
// republishes the active-universe view on any watched-set change.
func (o *Orchestrator) runScannerTick(ctx context.Context) {
	o.withWorker(func() {
		if err := o.scanner.Scan(ctx); err != nil {
			o.logger.Error("scanner tick failed", "error", err)
		}
		o.publishActiveUniverse(ctx)
	})
}

// runStreamProcessorTick iterates a snapshot of the active UIC set, feeding
// any UIC whose latest quote changed since last seen into Strategy, and
// acting on the resulting signal (spec §4.H "Stream processor").
func (o *Orchestrator) runStreamProcessorTick(ctx context.Context) {
	o.mu.Lock()
	active := make([]domain.UIC, 0, len(o.watched)+len(o.owned))
	for u := range o.watched {
		active = append(active, u)
	}
	for u := range o.owned {
		if !o.watched[u] {
			active = append(active, u)
		}
	}
	o.mu.Unlock()

	for _, uic := range active {
		quote, ok := o.streamMgr.Latest(uic)
		if !ok {
			continue
		}

		o.mu.Lock()
		last, seen := o.lastSeen[uic]
		if seen && !quote.UpdatedAt.After(last) {
			o.mu.Unlock()
			continue
		}
		o.lastSeen[uic] = quote.UpdatedAt
		o.mu.Unlock()

		// checkExit deletes the position before returning SignalSell, so the
		// held quantity must be captured before Update runs, not after.
		heldQty := o.positionQuantity(uic)
		signal := o.strategy.Update(ctx, uic, quote.LastPrice)
		o.actOnSignal(ctx, uic, quote.LastPrice, heldQty, signal)
	}
}

func (o *Orchestrator) actOnSignal(ctx context.Context, uic domain.UIC, price, heldQty float64, signal domain.Signal) {
	switch signal {
	case domain.SignalBuy:
		o.mu.Lock()
		o.owned[uic] = true
		o.mu.Unlock()
		o.executor.Place(ctx, uic, o.positionQuantity(uic), domain.SideBuy, "Market", 0, "Stock")
		o.publisher.Publish(ctx, events.TradeEvent{UIC: uic, Side: string(domain.SideBuy), Price: price, Reason: "ema crossover", Timestamp: time.Now()})
		o.publishActiveUniverse(ctx)
	case domain.SignalSell:
		o.mu.Lock()
		delete(o.owned, uic)
		o.mu.Unlock()
		o.executor.Place(ctx, uic, heldQty, domain.SideSell, "Market", 0, "Stock")
		o.publisher.Publish(ctx, events.TradeEvent{UIC: uic, Side: string(domain.SideSell), Price: price, Reason: "trailing stop + profit guard", Timestamp: time.Now()})
		o.publishActiveUniverse(ctx)
	}
}

func (o *Orchestrator) positionQuantity(uic domain.UIC) float64 {
	if pos, ok := o.strategy.Positions()[uic]; ok {
		return pos.Quantity
	}
	return 0
}

// runJanitorTick prunes stale subscriptions, protecting every UIC with an
// open position (spec §4.H "Janitor tick").
func (o *Orchestrator) runJanitorTick(ctx context.Context) {
	o.withWorker(func() {
		o.mu.Lock()
		safeSet := make(map[domain.UIC]bool, len(o.owned))
		for u := range o.owned {
			safeSet[u] = true
		}
		o.mu.Unlock()

		o.streamMgr.Prune(safeSet)
		o.publishActiveUniverse(ctx)
	})
}

// runReporterTick emits one health line.
func (o *Orchestrator) runReporterTick(_ context.Context) {
	o.reporter.LogHealth(context.Background())
}

// withWorker runs fn on the bounded worker pool so the event loop is not
// blocked by slow I/O (spec §5 "Scheduling model").
func (o *Orchestrator) withWorker(fn func()) {
	o.workerSem <- struct{}{}
	defer func() { <-o.workerSem }()
	fn()
}

// publishActiveUniverse republishes the watched/owned view to the State
// Store on any change (spec §4.H "Shared-state sync").
func (o *Orchestrator) publishActiveUniverse(ctx context.Context) {
	o.mu.Lock()
	view := domain.ActiveUniverse{
		Watched:   keysOf(o.watched),
		Owned:     keysOf(o.owned),
		Timestamp: time.Now(),
	}
	o.mu.Unlock()

	data, err := json.Marshal(view)
	if err != nil {
		o.logger.Error("failed to marshal active universe", "error", err)
		return
	}
	if err := o.store.Set(ctx, state.KeyActiveUniverse, string(data)); err != nil {
		o.logger.Error("failed to publish active universe", "error", err)
	}
}

// persistOpenPositions belt-and-braces re-persists every open position on
// shutdown, even though each mutation already persisted (spec §4.H).
func (o *Orchestrator) persistOpenPositions(ctx context.Context) {
	for uic, pos := range o.strategy.Positions() {
		data, err := json.Marshal(pos)
		if err != nil {
			continue
		}
		if err := o.store.Set(ctx, state.PositionKey(int64(uic)), string(data)); err != nil {
			o.logger.Error("failed to persist position on shutdown", "uic", uic, "error", err)
		}
	}
}

func keysOf(m map[domain.UIC]bool) []domain.UIC {
	out := make([]domain.UIC, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	return out
}
