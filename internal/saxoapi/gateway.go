// Package saxoapi implements component C, the typed REST Gateway.
//
// Grounded on adapter/saxo.go (doRequest/handleErrorResponse request shape,
// PlaceOrder/CancelOrder/GetOpenOrders/GetOpenPositions operations),
// adapter/instrument_adapter.go (SearchInstruments, GetContractPrices →
// fetch_cost_estimate) and adapter/market_data.go (GetAccountInfo →
// fetch_account_key). Every operation attaches the bearer credential from
// the Token Source, obeys the injected Rate Limiter's admit(), and on HTTP
// 429 reads Retry-After into the limiter's cooldown() (spec §4.C).
package saxoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
)

// Gateway implements ports.BrokerGateway over Saxo Bank's OpenAPI (spec §6
// endpoint table).
type Gateway struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource ports.TokenSource
	limiter     ports.RateLimiter // optional; nil disables admission
	logger      *slog.Logger
}

// New builds a Gateway. limiter may be nil when no rate-limiting is desired
// (e.g. in isolated unit tests).
func New(baseURL string, httpClient *http.Client, tokenSource ports.TokenSource, limiter ports.RateLimiter, logger *slog.Logger) *Gateway {
	return &Gateway{baseURL: baseURL, httpClient: httpClient, tokenSource: tokenSource, limiter: limiter, logger: logger}
}

// FetchAccountKey implements fetch_account_key(): GET /port/v1/accounts/me,
// take the first entry of Data[].
func (g *Gateway) FetchAccountKey(ctx context.Context) (string, error) {
	body, err := g.doGET(ctx, "/port/v1/accounts/me", nil, domain.PriorityLow)
	if err != nil {
		return "", err
	}
	var resp struct {
		Data []struct {
			AccountKey string `json:"AccountKey"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", saxoerr.New(saxoerr.Decode, "decode accounts/me response", err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("accounts/me returned no accounts")
	}
	return resp.Data[0].AccountKey, nil
}

// FetchCostEstimate implements fetch_cost_estimate(uic, qty, price, asset):
// GET /cs/v1/tradingconditions/cost/{account}/{uic}/{asset}, reading
// Cost.Long.TotalCost or Cost.Short.TotalCost.
func (g *Gateway) FetchCostEstimate(ctx context.Context, uic domain.UIC, qty float64, price float64, assetType string) (float64, error) {
	accountKey, err := g.FetchAccountKey(ctx)
	if err != nil {
		return 0, err
	}
	endpoint := fmt.Sprintf("/cs/v1/tradingconditions/cost/%s/%d/%s", url.PathEscape(accountKey), uic, assetType)
	params := url.Values{
		"Amount":      {strconv.FormatFloat(qty, 'f', -1, 64)},
		"Price":       {strconv.FormatFloat(price, 'f', -1, 64)},
		"FieldGroups": {"DisplayAndFormat"},
	}
	body, err := g.doGET(ctx, endpoint, params, domain.PriorityLow)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Cost struct {
			Long  *struct{ TotalCost float64 `json:"TotalCost"` } `json:"Long"`
			Short *struct{ TotalCost float64 `json:"TotalCost"` } `json:"Short"`
		} `json:"Cost"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, saxoerr.New(saxoerr.Decode, "decode cost estimate response", err)
	}
	if resp.Cost.Long != nil {
		return resp.Cost.Long.TotalCost, nil
	}
	if resp.Cost.Short != nil {
		return resp.Cost.Short.TotalCost, nil
	}
	return 0, nil
}

// ListInstruments implements list_instruments(exchange|keyword, asset):
// GET /ref/v1/instruments, filtered by AssetTypes=Stock and non-tradable
// excluded.
func (g *Gateway) ListInstruments(ctx context.Context, exchangeOrKeyword string, byKeyword bool, assetType string) ([]domain.UIC, error) {
	params := url.Values{"AssetTypes": {assetType}}
	if byKeyword {
		params.Set("Keywords", exchangeOrKeyword)
	} else {
		params.Set("ExchangeId", exchangeOrKeyword)
	}
	body, err := g.doGET(ctx, "/ref/v1/instruments", params, domain.PriorityLow)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Identifier int64 `json:"Identifier"`
			IsTradable *bool `json:"IsTradable"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, saxoerr.New(saxoerr.Decode, "decode instruments response", err)
	}
	var out []domain.UIC
	for _, d := range resp.Data {
		if d.IsTradable != nil && !*d.IsTradable {
			continue
		}
		out = append(out, domain.UIC(d.Identifier))
	}
	return out, nil
}

// ListInfoPrices implements list_info_prices(uics[], asset): GET
// /trade/v1/infoprices/list?Uics=csv&AssetType=Stock, returning last-traded
// and percent-change per UIC for the Scanner's candidate filter.
func (g *Gateway) ListInfoPrices(ctx context.Context, uics []domain.UIC, assetType string) ([]domain.InstrumentCandidate, error) {
	params := url.Values{
		"Uics":      {joinUICs(uics)},
		"AssetType": {assetType},
	}
	body, err := g.doGET(ctx, "/trade/v1/infoprices/list", params, domain.PriorityLow)
	if err != nil {
		return nil, err
	}
	return parseInfoPrices(body)
}

func parseInfoPrices(body []byte) ([]domain.InstrumentCandidate, error) {
	var resp struct {
		Data []struct {
			UIC   int64 `json:"Uic"`
			Quote struct {
				LastTraded    *float64 `json:"LastTraded"`
				Ask           *float64 `json:"Ask"`
				Bid           *float64 `json:"Bid"`
				PercentChange float64  `json:"PercentChange"`
			} `json:"Quote"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, saxoerr.New(saxoerr.Decode, "decode infoprices response", err)
	}
	out := make([]domain.InstrumentCandidate, 0, len(resp.Data))
	for _, d := range resp.Data {
		last := firstNonNil(d.Quote.LastTraded, d.Quote.Ask, d.Quote.Bid)
		out = append(out, domain.InstrumentCandidate{
			UIC:           domain.UIC(d.UIC),
			LastTraded:    last,
			PercentChange: d.Quote.PercentChange,
			Tradable:      true,
		})
	}
	return out, nil
}

func firstNonNil(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// CreateInfoPriceSubscription implements the POST side of the subscribe
// protocol (spec §4.D "Subscribe protocol"). The returned slice is the
// immediate snapshot (response body's `data` array) fed through quote
// extraction by the caller.
func (g *Gateway) CreateInfoPriceSubscription(ctx context.Context, contextID, referenceID string, uics []domain.UIC, assetType string, refreshMS int) ([]domain.Quote, error) {
	payload := map[string]interface{}{
		"ContextId":   contextID,
		"ReferenceId": referenceID,
		"Arguments": map[string]interface{}{
			"Uics":      joinUICs(uics),
			"AssetType": assetType,
		},
		"RefreshRate": refreshMS,
	}
	body, status, err := g.doPOST(ctx, "/trade/v1/infoprices/subscriptions", payload, domain.PriorityNormal)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden || strings.Contains(string(body), "SubscriptionLimitExceeded") {
		return nil, saxoerr.New(saxoerr.SubscriptionLimit, "subscription limit exceeded", nil)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, saxoerr.New(saxoerr.RemoteNon2xx, fmt.Sprintf("subscribe failed with status %d", status), nil)
	}
	var resp struct {
		Snapshot struct {
			Data json.RawMessage `json:"Data"`
		} `json:"Snapshot"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		// Snapshot is best-effort; enrollment itself already succeeded.
		g.logger.Warn("failed to decode subscription snapshot", "error", err)
		return nil, nil
	}
	if len(resp.Snapshot.Data) == 0 {
		return nil, nil
	}
	return parseSnapshotQuotes(resp.Snapshot.Data, g.now())
}

// now returns the wall-clock time used to stamp snapshot quotes.
func (g *Gateway) now() time.Time { return time.Now() }

// parseSnapshotQuotes decodes the subscription snapshot's Data array into
// Quotes using the same last_traded/ask/bid fallback chain as the
// WebSocket quote extraction (spec §4.D "Subscribe protocol": "snapshot in
// response body ... is immediately fed through quote extraction").
func parseSnapshotQuotes(rawData json.RawMessage, now time.Time) ([]domain.Quote, error) {
	var elements []struct {
		UIC   int64 `json:"Uic"`
		Quote struct {
			LastTraded *float64 `json:"LastTraded"`
			Ask        *float64 `json:"Ask"`
			Bid        *float64 `json:"Bid"`
		} `json:"Quote"`
	}
	if err := json.Unmarshal(rawData, &elements); err != nil {
		return nil, saxoerr.New(saxoerr.Decode, "decode subscription snapshot", err)
	}
	out := make([]domain.Quote, 0, len(elements))
	for _, el := range elements {
		price, ok := firstNonNilPtr(el.Quote.LastTraded, el.Quote.Ask, el.Quote.Bid)
		if !ok {
			continue
		}
		out = append(out, domain.Quote{UIC: domain.UIC(el.UIC), LastPrice: price, UpdatedAt: now})
	}
	return out, nil
}

func firstNonNilPtr(vals ...*float64) (float64, bool) {
	for _, v := range vals {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// DeleteInfoPriceSubscription implements DELETE
// /trade/v1/infoprices/subscriptions/{context}/{ref}.
func (g *Gateway) DeleteInfoPriceSubscription(ctx context.Context, contextID, referenceID string) error {
	endpoint := fmt.Sprintf("/trade/v1/infoprices/subscriptions/%s/%s", url.PathEscape(contextID), url.PathEscape(referenceID))
	_, status, err := g.doDELETE(ctx, endpoint, domain.PriorityNormal)
	if err != nil {
		return err
	}
	if status >= 300 {
		return saxoerr.New(saxoerr.RemoteNon2xx, fmt.Sprintf("unsubscribe failed with status %d", status), nil)
	}
	return nil
}

// PlaceOrder implements POST /trade/v1/orders.
func (g *Gateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (bool, error) {
	payload := map[string]interface{}{
		"Uic":         req.UIC,
		"AssetType":   req.AssetType,
		"Amount":      req.Amount,
		"BuySell":     string(req.BuySell),
		"OrderType":   req.OrderType,
		"AccountKey":  req.AccountKey,
		"OrderDuration": map[string]interface{}{
			"DurationType": req.DurationType,
		},
	}
	if req.OrderType == "Limit" {
		payload["OrderPrice"] = req.OrderPrice
	}
	priority := domain.PriorityNormal
	if req.BuySell == domain.SideSell {
		priority = domain.PriorityHigh
	}
	_, status, err := g.doPOST(ctx, "/trade/v1/orders", payload, priority)
	if err != nil {
		return false, err
	}
	return status >= 200 && status < 300, nil
}

// ListOpenOrders implements GET /trade/v1/orders?AccountKey=….
func (g *Gateway) ListOpenOrders(ctx context.Context, accountKey string) ([]ports.OpenOrder, error) {
	body, err := g.doGET(ctx, "/trade/v1/orders", url.Values{"AccountKey": {accountKey}}, domain.PriorityNormal)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			OrderID string `json:"OrderId"`
			UIC     int64  `json:"Uic"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, saxoerr.New(saxoerr.Decode, "decode open orders response", err)
	}
	out := make([]ports.OpenOrder, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, ports.OpenOrder{OrderID: d.OrderID, UIC: domain.UIC(d.UIC)})
	}
	return out, nil
}

// CancelOrder implements DELETE /trade/v1/orders/{id}?AccountKey=….
func (g *Gateway) CancelOrder(ctx context.Context, orderID, accountKey string) error {
	endpoint := fmt.Sprintf("/trade/v1/orders/%s", url.PathEscape(orderID))
	_, status, err := g.doDELETEWithParams(ctx, endpoint, url.Values{"AccountKey": {accountKey}}, domain.PriorityHigh)
	if err != nil {
		return err
	}
	if status >= 300 {
		return saxoerr.New(saxoerr.RemoteNon2xx, fmt.Sprintf("cancel order failed with status %d", status), nil)
	}
	return nil
}

// ListPositions implements GET /port/v1/positions?AccountKey=….
func (g *Gateway) ListPositions(ctx context.Context, accountKey string) ([]ports.BrokerPosition, error) {
	body, err := g.doGET(ctx, "/port/v1/positions", url.Values{"AccountKey": {accountKey}}, domain.PriorityNormal)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			PositionBase struct {
				UIC    int64   `json:"Uic"`
				Amount float64 `json:"Amount"`
			} `json:"PositionBase"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, saxoerr.New(saxoerr.Decode, "decode positions response", err)
	}
	out := make([]ports.BrokerPosition, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, ports.BrokerPosition{UIC: domain.UIC(d.PositionBase.UIC), Amount: d.PositionBase.Amount})
	}
	return out, nil
}

// --- request plumbing, grounded on adapter/saxo.go's doRequest/handleErrorResponse ---

func (g *Gateway) doGET(ctx context.Context, path string, params url.Values, priority domain.Priority) ([]byte, error) {
	body, _, err := g.do(ctx, http.MethodGet, path, params, nil, priority)
	return body, err
}

func (g *Gateway) doPOST(ctx context.Context, path string, payload interface{}, priority domain.Priority) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request payload: %w", err)
	}
	return g.do(ctx, http.MethodPost, path, nil, data, priority)
}

func (g *Gateway) doDELETE(ctx context.Context, path string, priority domain.Priority) ([]byte, int, error) {
	return g.do(ctx, http.MethodDelete, path, nil, nil, priority)
}

func (g *Gateway) doDELETEWithParams(ctx context.Context, path string, params url.Values, priority domain.Priority) ([]byte, int, error) {
	return g.do(ctx, http.MethodDelete, path, params, nil, priority)
}

func (g *Gateway) do(ctx context.Context, method, path string, params url.Values, body []byte, priority domain.Priority) ([]byte, int, error) {
	if g.limiter != nil && !g.limiter.Admit(priority) {
		return nil, 0, saxoerr.New(saxoerr.RateLimited, "rate limiter denied admission", nil)
	}

	fullURL := g.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	token, err := g.tokenSource.AccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	if g.limiter != nil {
		g.limiter.Record()
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, saxoerr.New(saxoerr.Transport, "http request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if g.limiter != nil {
			g.limiter.Cooldown(retryAfter)
		}
		return respBody, resp.StatusCode, saxoerr.WithRetryAfter("rate limited by broker", retryAfter, nil)
	}
	if resp.StatusCode >= 300 {
		g.logger.Error("non-2xx broker response", "status", resp.StatusCode, "path", path)
		return respBody, resp.StatusCode, saxoerr.New(saxoerr.RemoteNon2xx, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}
	return respBody, resp.StatusCode, nil
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return 0
	}
	return n
}

func joinUICs(uics []domain.UIC) string {
	parts := make([]string, len(uics))
	for i, u := range uics {
		parts[i] = strconv.FormatInt(int64(u), 10)
	}
	return strings.Join(parts, ",")
}
