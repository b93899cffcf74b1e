package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
)

// staleAfter is the janitor's prune threshold — 60 minutes (spec §4.D).
const staleAfter = 60 * time.Minute

// reconnectDelay is the spec's fixed (not exponential) reconnect backoff.
const reconnectDelay = 5 * time.Second

const refreshRateMS = 1000
const assetType = "Stock"

// SubscriptionGateway is the slice of the REST Gateway the Streaming
// Manager needs — just the subscribe/unsubscribe side channel (spec §4.C
// create_info_price_subscription / delete_info_price_subscription).
// Narrowed from ports.BrokerGateway so tests can fake just this.
type SubscriptionGateway interface {
	CreateInfoPriceSubscription(ctx context.Context, contextID, referenceID string, uics []domain.UIC, assetType string, refreshMS int) ([]domain.Quote, error)
	DeleteInfoPriceSubscription(ctx context.Context, contextID, referenceID string) error
}

// Manager implements ports.StreamingManager (component D).
//
// Grounded on adapter/websocket/saxo_websocket.go for the overall
// reader/processor-goroutine shape and adapter/websocket/subscription_manager.go
// for the enroll/unenroll REST side-channel — generalized from the
// teacher's multi-subscription-type map (prices/orders/portfolio/session)
// down to the spec's simpler "one reference id per enrolled UIC" model,
// and from the teacher's exponential backoff down to the spec's fixed 5s.
type Manager struct {
	gateway     SubscriptionGateway
	tokenSource ports.TokenSource
	clock       ports.Clock
	logger      *slog.Logger
	dial        dialFunc
	wsURL       string
	baseRefID   string
	baseCtxID   string

	mu        sync.Mutex
	ledger    map[domain.UIC]domain.Subscription
	quotes    map[domain.UIC]domain.Quote
	desired   map[domain.UIC]bool
	contextID string

	connMu sync.Mutex
	conn   wsConn

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Manager. dial is injected so tests can substitute a fake
// transport instead of a real gorilla/websocket dialer.
func New(gateway SubscriptionGateway, tokenSource ports.TokenSource, clock ports.Clock, dial dialFunc, wsURL, baseRefID, baseCtxID string, logger *slog.Logger) *Manager {
	return &Manager{
		gateway:     gateway,
		tokenSource: tokenSource,
		clock:       clock,
		logger:      logger,
		dial:        dial,
		wsURL:       wsURL,
		baseRefID:   baseRefID,
		baseCtxID:   baseCtxID,
		ledger:      make(map[domain.UIC]domain.Subscription),
		quotes:      make(map[domain.UIC]domain.Quote),
		desired:     make(map[domain.UIC]bool),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the supervised connection loop and enrolls the initial UIC
// set once the first connection is established.
func (m *Manager) Start(ctx context.Context, initialUICs []domain.UIC) error {
	m.mu.Lock()
	for _, u := range initialUICs {
		m.desired[u] = true
	}
	m.mu.Unlock()

	go m.superviseConnection(ctx)
	return nil
}

// Close tears down the supervisor loop and the current connection.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// Add is idempotent: if uic is already enrolled this is a no-op, else it
// enrolls a single-UIC subscription with a fresh reference id (spec §4.D).
func (m *Manager) Add(uic domain.UIC) error {
	m.mu.Lock()
	if _, ok := m.ledger[uic]; ok {
		m.mu.Unlock()
		return nil
	}
	contextID := m.contextID
	m.desired[uic] = true
	m.mu.Unlock()

	refID := m.referenceID(uic)
	snapshot, err := m.gateway.CreateInfoPriceSubscription(context.Background(), contextID, refID, []domain.UIC{uic}, assetType, refreshRateMS)
	if err != nil {
		if saxoerr.Is(err, saxoerr.SubscriptionLimit) {
			m.logger.Error("subscription limit exceeded enrolling uic", "uic", uic)
		}
		return err
	}

	m.mu.Lock()
	m.ledger[uic] = domain.Subscription{UIC: uic, ReferenceID: refID, ContextID: contextID, CreatedAt: m.clock.Now()}
	for _, q := range snapshot {
		m.quotes[q.UIC] = q
	}
	m.mu.Unlock()
	return nil
}

// Remove is idempotent: deletes the subscription via REST and drops local
// ledger state regardless of whether the REST delete succeeded — the
// broker GCs orphaned subscriptions when the context dies (spec §4.D
// "Pruning invariants").
func (m *Manager) Remove(uic domain.UIC) error {
	m.mu.Lock()
	sub, ok := m.ledger[uic]
	delete(m.desired, uic)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := m.gateway.DeleteInfoPriceSubscription(context.Background(), sub.ContextID, sub.ReferenceID)

	m.mu.Lock()
	delete(m.ledger, uic)
	delete(m.quotes, uic)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("unsubscribe REST call failed; dropped locally anyway", "uic", uic, "error", err)
	}
	return nil
}

// Prune drops subscriptions older than 60 minutes that are not in safeSet.
// It never removes a UIC in safeSet (spec §4.D invariant).
func (m *Manager) Prune(safeSet map[domain.UIC]bool) {
	cutoff := m.clock.Now().Add(-staleAfter)

	m.mu.Lock()
	var toDrop []domain.UIC
	for uic, sub := range m.ledger {
		if safeSet[uic] {
			continue
		}
		if sub.CreatedAt.Before(cutoff) {
			toDrop = append(toDrop, uic)
		}
	}
	m.mu.Unlock()

	for _, uic := range toDrop {
		_ = m.Remove(uic)
	}
}

// Latest returns the last known Quote for uic, if any.
func (m *Manager) Latest(uic domain.UIC) (domain.Quote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[uic]
	return q, ok
}

// referenceID builds ref_id = base || "_" || uic || "_" || unix_seconds
// (spec §4.D "Reference-ID discipline").
func (m *Manager) referenceID(uic domain.UIC) string {
	return fmt.Sprintf("%s_%d_%d", m.baseRefID, uic, m.clock.Now().Unix())
}

// newContextID builds context_id = base || "_" || unix_seconds (spec §4.D
// "Context-ID discipline").
func (m *Manager) newContextID() string {
	return fmt.Sprintf("%s_%d", m.baseCtxID, m.clock.Now().Unix())
}

// desiredSnapshot copies out the currently-desired UIC set.
func (m *Manager) desiredSnapshot() []domain.UIC {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UIC, 0, len(m.desired))
	for u := range m.desired {
		out = append(out, u)
	}
	return out
}

// storeQuotes merges decoded quotes into the quote map.
func (m *Manager) storeQuotes(quotes []domain.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotes {
		m.quotes[q.UIC] = q
	}
}

// resetLedgerForNewContext discards all subscription entries because the
// broker loses them with the old context (spec §4.D "Context-ID
// discipline": "existing subscription entries are discarded at reconnect").
func (m *Manager) resetLedgerForNewContext(newContextID string) {
	m.mu.Lock()
	m.ledger = make(map[domain.UIC]domain.Subscription)
	m.contextID = newContextID
	m.mu.Unlock()
}
