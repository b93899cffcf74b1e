package reporter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bjoelf/saxotrader/internal/domain"
)

// KillSwitcher is the slice of Executor the admin server can reach.
type KillSwitcher interface {
	KillSwitch(ctx context.Context)
}

// AdminServer exposes a small read/ops HTTP surface (ambient observability,
// not a spec feature) over gin+gin-contrib/cors, following
// koshedutech-binance-trading-app/internal/api/server.go's router
// construction (gin.New + Logger/Recovery middleware + cors.New).
// It performs no mutation of trading state beyond relaying to the
// Executor's existing KillSwitch.
type AdminServer struct {
	router     *gin.Engine
	httpServer *http.Server
	positions  PositionSource
	executor   KillSwitcher
}

// NewAdminServer builds the admin HTTP surface listening on addr.
func NewAdminServer(addr string, positions PositionSource, executor KillSwitcher) *AdminServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST"}
	router.Use(cors.New(corsConfig))

	s := &AdminServer{router: router, positions: positions, executor: executor}
	router.GET("/healthz", s.handleHealthz)
	router.GET("/positions", s.handlePositions)
	router.POST("/kill-switch", s.handleKillSwitch)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving until the server is shut down; call from a goroutine.
func (s *AdminServer) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *AdminServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "open_positions": len(s.positions.Positions())})
}

func (s *AdminServer) handlePositions(c *gin.Context) {
	positions := s.positions.Positions()
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, p)
	}
	c.JSON(http.StatusOK, out)
}

func (s *AdminServer) handleKillSwitch(c *gin.Context) {
	s.executor.KillSwitch(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "kill switch activated"})
}
