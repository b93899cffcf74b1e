// Package events implements a best-effort audit publisher: every BUY/SELL
// decision is pushed to an external RabbitMQ exchange so audit consumers
// outside this process can observe trading activity without touching the
// State Store. Profit-guard vetoes are logged by the Strategy, not published.
//
// Grounded on marksmithsgit-go-trader/internal/amqp/publisher.go's
// Publisher (Dial-with-retry, Channel, QueueDeclare, PublishWithContext,
// JSON command payloads). Unlike that teacher, a publisher here is entirely
// optional: with no TRADE_EVENTS_AMQP_URL configured, New returns a no-op
// Publisher so the rest of the system never has to check for nil.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/bjoelf/saxotrader/internal/domain"
)

const (
	exchangeName = "saxotrader.trade-events"
	dialRetries  = 5
	dialBackoff  = 2 * time.Second
	publishWait  = 5 * time.Second
)

// TradeEvent is the JSON payload shape published for every decision.
type TradeEvent struct {
	UIC       domain.UIC `json:"uic"`
	Side      string     `json:"side"`
	Price     float64    `json:"price"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher pushes TradeEvents to an exchange; the zero value (conn == nil)
// is a valid no-op publisher.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

// New connects to amqpURL and declares the trade-events exchange. If
// amqpURL is empty, it returns a no-op Publisher (spec §6: "no-ops if
// unset") rather than an error.
func New(amqpURL string, logger *slog.Logger) (*Publisher, error) {
	if amqpURL == "" {
		logger.Info("trade events publisher disabled: TRADE_EVENTS_AMQP_URL not set")
		return &Publisher{logger: logger}, nil
	}

	var conn *amqp091.Connection
	var err error
	for attempt := 1; attempt <= dialRetries; attempt++ {
		conn, err = amqp091.Dial(amqpURL)
		if err == nil {
			break
		}
		logger.Warn("trade events publisher dial attempt failed", "attempt", attempt, "error", err)
		time.Sleep(dialBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("events: dial after %d attempts: %w", dialRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, logger: logger}, nil
}

// Publish emits one TradeEvent. Failures are logged, not returned to the
// caller: a broken audit feed must never stop a trading decision.
func (p *Publisher) Publish(ctx context.Context, evt TradeEvent) {
	if p.channel == nil {
		return
	}

	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("trade event marshal failed", "error", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()
	err = p.channel.PublishWithContext(publishCtx, exchangeName, "", false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   evt.Timestamp,
	})
	if err != nil {
		p.logger.Error("trade event publish failed", "error", err, "uic", evt.UIC, "side", evt.Side)
	}
}

// Close releases the channel and connection; safe to call on a no-op
// Publisher.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
