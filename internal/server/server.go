// Package server assembles the HTTP API: routing, middleware, and the
// WebSocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/barwars/ledgerd/internal/server/handler"
	"github.com/barwars/ledgerd/internal/server/middleware"
	"github.com/barwars/ledgerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // gates /api/admin; empty rejects all admin calls
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API for the ledger daemon.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered: the public market
// and wagering surface, the API-key-gated admin surface, and the WebSocket
// event stream.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market reads.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{symbol}", handlers.Markets.GetStats)
	mux.HandleFunc("GET /api/markets/{symbol}/round", handlers.Markets.GetRound)
	mux.HandleFunc("GET /api/markets/{symbol}/history", handlers.Markets.GetHistory)

	// Wagering and account reads.
	mux.HandleFunc("POST /api/markets/{symbol}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{symbol}/positions/{address}", handlers.Accounts.GetPosition)
	mux.HandleFunc("GET /api/markets/{symbol}/positions/{address}/preview", handlers.Accounts.GetPayoutPreview)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.GetAccount)

	// Admin surface, behind the API key.
	adminKey := middleware.RequireKey(cfg.AdminAPIKey)
	mux.Handle("POST /api/admin/markets/{symbol}/close", adminKey(http.HandlerFunc(handlers.Admin.CloseRound)))
	mux.Handle("POST /api/admin/markets/{symbol}/settle", adminKey(http.HandlerFunc(handlers.Admin.Settle)))
	mux.Handle("PUT /api/admin/fee", adminKey(http.HandlerFunc(handlers.Admin.SetFee)))
	mux.Handle("POST /api/admin/owner", adminKey(http.HandlerFunc(handlers.Admin.TransferRole)))
	mux.Handle("GET /api/admin/treasury", adminKey(http.HandlerFunc(handlers.Admin.Treasury)))

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
