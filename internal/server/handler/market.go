package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/barwars/ledgerd/internal/domain"
)

// MarketService defines the read methods the market handler requires from the
// service layer. Declared locally so the handler package does not depend on
// the concrete service implementation.
type MarketService interface {
	Markets() []string
	MarketStats(ctx context.Context, symbol string) (domain.MarketStats, error)
	CurrentRound(symbol string) (domain.Round, error)
	SettledRounds(symbol string) ([]domain.Round, error)
	SettlementHistory(ctx context.Context, symbol string) ([]domain.SettlementRecord, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// ListMarkets returns the known market symbols.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	symbols := h.markets.Markets()
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"markets": symbols})
}

// GetStats returns the cached view of a market's current round.
// GET /api/markets/{symbol}
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	stats, err := h.markets.MarketStats(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetRound returns the full current round of a market, straight from the
// accounting core.
// GET /api/markets/{symbol}/round
func (h *MarketHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	round, err := h.markets.CurrentRound(symbol)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// GetHistory returns a market's settlement history. With the persistent
// store wired it returns full settlement records; otherwise it falls back to
// the in-memory settled rounds.
// GET /api/markets/{symbol}/history
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")

	recs, err := h.markets.SettlementHistory(r.Context(), symbol)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"settlements": recs})
		return
	}

	rounds, err := h.markets.SettledRounds(symbol)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}
