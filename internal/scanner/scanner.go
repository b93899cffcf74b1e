// Package scanner implements component E, the periodic universe scanner.
//
// No direct teacher equivalent exists; grounded on
// original_source/src/scanner.py's MarketScanner (get_us_universe batch
// split, 0.5 s inter-batch delay, price/percent-change candidate filter) and
// wired onto the REST Gateway's ListInstruments/ListInfoPrices (4.C) and the
// Streaming Manager's Add (4.D) from this module.
package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
)

const (
	batchSize         = 50
	priceFloor        = 1.0
	priceCeiling      = 20.0
	percentChangeGate = 1.5
	assetType         = "Stock"
	interBatchDelay   = 500 * time.Millisecond
	rateLimitPause    = 10 * time.Second
)

// Scanner finds momentum candidates across a configured instrument universe
// and hands them to the Streaming Manager for enrollment.
type Scanner struct {
	gateway   ports.BrokerGateway
	streamMgr ports.StreamingManager
	limiter   ports.RateLimiter
	clock     ports.Clock
	logger    *slog.Logger

	exchanges        []string
	fallbackKeywords []string

	universe []domain.UIC
}

// New builds a Scanner. exchanges and fallbackKeywords come from
// config.Config.Exchanges()/FallbackKeywords().
func New(gateway ports.BrokerGateway, streamMgr ports.StreamingManager, limiter ports.RateLimiter, clock ports.Clock, exchanges, fallbackKeywords []string, logger *slog.Logger) *Scanner {
	return &Scanner{
		gateway:          gateway,
		streamMgr:        streamMgr,
		limiter:          limiter,
		clock:            clock,
		exchanges:        exchanges,
		fallbackKeywords: fallbackKeywords,
		logger:           logger,
	}
}

// LoadUniverse fetches the broad instrument universe by exchange, falling
// back to keyword search when the exchange lookup returns nothing (spec
// §4.E "If the exchange lookup returns empty, fall back to keyword-based
// instrument search over a fixed seed list.").
func (s *Scanner) LoadUniverse(ctx context.Context) error {
	seen := make(map[domain.UIC]bool)
	var universe []domain.UIC

	for _, exchange := range s.exchanges {
		uics, err := s.gateway.ListInstruments(ctx, exchange, false, assetType)
		if err != nil {
			s.logger.Warn("universe fetch failed for exchange", "exchange", exchange, "error", err)
			continue
		}
		for _, u := range uics {
			if !seen[u] {
				seen[u] = true
				universe = append(universe, u)
			}
		}
	}

	if len(universe) == 0 {
		s.logger.Warn("exchange fetch returned 0 results; falling back to keyword search")
		for _, kw := range s.fallbackKeywords {
			uics, err := s.gateway.ListInstruments(ctx, kw, true, assetType)
			if err != nil {
				s.logger.Warn("keyword universe fetch failed", "keyword", kw, "error", err)
				continue
			}
			for _, u := range uics {
				if !seen[u] {
					seen[u] = true
					universe = append(universe, u)
				}
			}
		}
	}

	s.universe = universe
	s.logger.Info("market scanner universe loaded", "count", len(universe))
	return nil
}

// Scan splits the universe into batches of 50, fetches info-prices per
// batch, filters for hot candidates, and enrolls each one with the
// Streaming Manager (spec §4.E).
func (s *Scanner) Scan(ctx context.Context) error {
	if len(s.universe) == 0 {
		s.logger.Warn("empty universe, skipping scan")
		return nil
	}

	for start := 0; start < len(s.universe); start += batchSize {
		end := start + batchSize
		if end > len(s.universe) {
			end = len(s.universe)
		}
		batch := s.universe[start:end]

		if s.limiter != nil && !s.limiter.Admit(domain.PriorityLow) {
			s.logger.Warn("scanner paused for batch due to rate limit")
			s.clock.Sleep(rateLimitPause)
			continue
		}

		candidates, err := s.gateway.ListInfoPrices(ctx, batch, assetType)
		if err != nil {
			if saxoerr.Is(err, saxoerr.RateLimited) {
				s.logger.Warn("scanner aborting scan: rate limited by broker")
				return err
			}
			s.logger.Error("batch scan error", "error", err)
			continue
		}

		for _, c := range candidates {
			if !s.isHotCandidate(c) {
				continue
			}
			s.logger.Info("quick win detected", "uic", c.UIC, "percent_change", c.PercentChange, "price", c.LastTraded)
			if err := s.streamMgr.Add(c.UIC); err != nil {
				s.logger.Error("failed to enroll scanner candidate", "uic", c.UIC, "error", err)
			}
		}

		s.clock.Sleep(interBatchDelay)
	}
	return nil
}

func (s *Scanner) isHotCandidate(c domain.InstrumentCandidate) bool {
	if c.LastTraded < priceFloor || c.LastTraded > priceCeiling {
		return false
	}
	return c.PercentChange > percentChangeGate
}
