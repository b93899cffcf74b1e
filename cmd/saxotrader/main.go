// Command saxotrader wires every component into one process: auth, rate
// limiter, REST Gateway, Streaming Manager, Scanner, Strategy, Executor,
// Reporter, admin HTTP surface, trade-events publisher and the
// Orchestrator's four periodic tasks.
//
// Grounded on the teacher's cmd/ entrypoint shape (load .env, build the
// logger, build the OAuth2 client, then the WebSocket connection, then
// run) generalized to this spec's full component graph (spec §6).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/bjoelf/saxotrader/internal/auth"
	"github.com/bjoelf/saxotrader/internal/config"
	"github.com/bjoelf/saxotrader/internal/domain"
	"github.com/bjoelf/saxotrader/internal/events"
	"github.com/bjoelf/saxotrader/internal/executor"
	"github.com/bjoelf/saxotrader/internal/logging"
	"github.com/bjoelf/saxotrader/internal/orchestrator"
	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/ratelimit"
	"github.com/bjoelf/saxotrader/internal/reporter"
	"github.com/bjoelf/saxotrader/internal/saxoapi"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
	"github.com/bjoelf/saxotrader/internal/scanner"
	"github.com/bjoelf/saxotrader/internal/state"
	"github.com/bjoelf/saxotrader/internal/streaming"
	"github.com/bjoelf/saxotrader/internal/strategy"
)

func main() {
	config.LoadDotEnv()
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	clock := ports.SystemClock{}

	store, err := state.New(cfg.RedisURL)
	if err != nil {
		logger.Error("state store connect failed", "error", err)
		os.Exit(1)
	}

	tokenSource := auth.New(cfg.OAuth2Config(), store, clock, cfg.RefreshToken, logger)

	// Startup auth check: spec §6 "nonzero on authentication failure at startup".
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := tokenSource.AccessToken(ctx); err != nil {
		cancel()
		logger.Error("startup authentication failed", "error", err, "kind", saxoerr.AuthUnavailable)
		store.Close()
		os.Exit(1)
	}
	cancel()

	limiter := ratelimit.NewDefault(clock, logger)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	gateway := saxoapi.New(cfg.SaxoBaseURL, httpClient, tokenSource, limiter, logger)

	accountKey, err := gateway.FetchAccountKey(context.Background())
	if err != nil {
		logger.Error("failed to resolve account key at startup", "error", err)
		store.Close()
		os.Exit(1)
	}

	streamMgr := streaming.New(gateway, tokenSource, clock, streaming.GorillaDial, cfg.SaxoWSURL, "saxotrader", "saxotrader-ctx", logger)

	sc := scanner.New(gateway, streamMgr, limiter, clock, cfg.Exchanges(), cfg.FallbackKeywords(), logger)

	strat := strategy.New(gateway, store, cfg.StopLossPct, cfg.TradeQuantity, cfg.InstrumentCurrency, cfg.AccountCurrency, logger)
	if err := strat.LoadState(context.Background()); err != nil {
		logger.Error("failed to rehydrate open positions", "error", err)
	}

	exec := executor.New(gateway, limiter, cfg.DryRun, accountKey, logger)
	rep := reporter.New(strat, logger)

	publisher, err := events.New(cfg.TradeEventsAMQPURL, logger)
	if err != nil {
		logger.Error("trade events publisher setup failed", "error", err)
		store.Close()
		os.Exit(1)
	}
	defer publisher.Close()

	orch := orchestrator.New(sc, streamMgr, strat, exec, rep, publisher, store, logger)

	admin := reporter.NewAdminServer(cfg.AdminListenAddr, strat, exec)
	go func() {
		if err := admin.Start(); err != nil {
			logger.Error("admin server stopped", "error", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initialUICs := toUICs(cfg.InitialUICs())
	logger.Info("saxotrader starting", "dry_run", cfg.DryRun, "initial_watchlist", initialUICs)

	if err := orch.Run(runCtx, initialUICs); err != nil {
		logger.Error("orchestrator exited with error", "error", err)
		shutdownAdmin(admin, logger)
		os.Exit(1)
	}

	shutdownAdmin(admin, logger)
	logger.Info("saxotrader stopped cleanly")
	os.Exit(0)
}

func shutdownAdmin(admin *reporter.AdminServer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.Shutdown(ctx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}
}

func toUICs(raw []int64) []domain.UIC {
	out := make([]domain.UIC, 0, len(raw))
	for _, v := range raw {
		out = append(out, domain.UIC(v))
	}
	return out
}
