// Package ports defines the interfaces every component depends on, so that
// construction is explicit dependency injection rather than global
// singletons — per spec Design Notes §9: "Replace with an explicit
// dependency passed to constructors: {token_source, rate_limiter,
// state_store, clock, http_client}."
//
// Generalized from the teacher's adapter/interfaces.go AuthClient /
// BrokerClient / WebSocketClient split, narrowed to this domain's actual
// operations instead of the teacher's broker-agnostic superset.
package ports

import (
	"context"
	"time"

	"github.com/bjoelf/saxotrader/internal/domain"
)

// TokenSource supplies a valid bearer credential on demand (component A).
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RateLimiter gates outbound calls (component B).
type RateLimiter interface {
	Admit(priority domain.Priority) bool
	Record()
	Cooldown(seconds int)
}

// Clock is injected so tests can control time instead of sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// StateStore is the external key-value store (component J).
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// CostOracle estimates a commission (used by both the REST Gateway and the
// Strategy's profit guard).
type CostOracle interface {
	FetchCostEstimate(ctx context.Context, uic domain.UIC, qty float64, price float64, assetType string) (float64, error)
}

// BrokerGateway is the typed REST Gateway (component C).
type BrokerGateway interface {
	CostOracle

	FetchAccountKey(ctx context.Context) (string, error)
	ListInstruments(ctx context.Context, exchangeOrKeyword string, byKeyword bool, assetType string) ([]domain.UIC, error)
	ListInfoPrices(ctx context.Context, uics []domain.UIC, assetType string) ([]domain.InstrumentCandidate, error)

	CreateInfoPriceSubscription(ctx context.Context, contextID, referenceID string, uics []domain.UIC, assetType string, refreshMS int) ([]domain.Quote, error)
	DeleteInfoPriceSubscription(ctx context.Context, contextID, referenceID string) error

	PlaceOrder(ctx context.Context, req OrderRequest) (bool, error)
	ListOpenOrders(ctx context.Context, accountKey string) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, orderID, accountKey string) error
	ListPositions(ctx context.Context, accountKey string) ([]BrokerPosition, error)
}

// OrderRequest is the payload shape for Executor.place (spec §4.G).
type OrderRequest struct {
	UIC           domain.UIC
	AssetType     string
	Amount        float64
	BuySell       domain.Side
	OrderType     string // "Market" or "Limit"
	OrderPrice    float64
	AccountKey    string
	DurationType  string // "DayOrder"
	CorrelationID string
}

// OpenOrder is a row from ListOpenOrders.
type OpenOrder struct {
	OrderID string
	UIC     domain.UIC
}

// BrokerPosition is a row from ListPositions.
type BrokerPosition struct {
	UIC    domain.UIC
	Amount float64
}

// StreamingManager is component D's public contract.
type StreamingManager interface {
	Start(ctx context.Context, initialUICs []domain.UIC) error
	Add(uic domain.UIC) error
	Remove(uic domain.UIC) error
	Prune(safeSet map[domain.UIC]bool)
	Latest(uic domain.UIC) (domain.Quote, bool)
	Close() error
}
