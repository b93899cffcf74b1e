package streaming

import (
	"encoding/json"
	"time"

	"github.com/bjoelf/saxotrader/internal/domain"
)

// quoteElement is one element of a decoded price-update JSON payload.
// Loosely typed per Design Notes §9 ("model broker responses as
// value-trees with explicit optional-field accessors"); the teacher's
// PriceQuote (adapter/websocket/message_handler.go) lacks LastTraded, which
// the spec's fallback chain requires, so it is added here.
type quoteElement struct {
	UIC   int64 `json:"Uic"`
	Quote struct {
		LastTraded *float64 `json:"LastTraded"`
		Ask        *float64 `json:"Ask"`
		Bid        *float64 `json:"Bid"`
	} `json:"Quote"`
}

// ExtractQuotes decodes a JSON array payload into Quotes using the
// last_traded else ask else bid fallback chain from spec §4.D, stamping
// UpdatedAt with the provided "now" (monotonic_now()).
func ExtractQuotes(payload []byte, now time.Time) ([]domain.Quote, error) {
	var elements []quoteElement
	if err := json.Unmarshal(payload, &elements); err != nil {
		return nil, err
	}
	quotes := make([]domain.Quote, 0, len(elements))
	for _, el := range elements {
		price, ok := firstPrice(el.Quote.LastTraded, el.Quote.Ask, el.Quote.Bid)
		if !ok {
			continue
		}
		quotes = append(quotes, domain.Quote{
			UIC:       domain.UIC(el.UIC),
			LastPrice: price,
			UpdatedAt: now,
		})
	}
	return quotes, nil
}

func firstPrice(vals ...*float64) (float64, bool) {
	for _, v := range vals {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}
