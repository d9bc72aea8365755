package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/barwars/ledgerd/internal/domain"
)

// BetService defines the wagering methods the bet handler requires.
type BetService interface {
	PlaceBet(ctx context.Context, caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error)
	PlaceBatchBet(ctx context.Context, caller domain.Participant, nonce uint64, symbol string, side domain.Side, tickets uint64, paid *big.Int) (domain.BetRecord, error)
}

// BetHandler serves the wagering endpoint.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the JSON body of the bet endpoint. Paid is the exact
// stake in wei as a decimal string; Nonce zero skips replay protection.
type placeBetRequest struct {
	Side    domain.Side `json:"side"`
	Tickets uint64      `json:"tickets"`
	Paid    string      `json:"paid"`
	Nonce   uint64      `json:"nonce"`
	Batch   bool        `json:"batch"`
}

// PlaceBet stakes tickets on one side of a market's current round. The
// caller identity comes from the X-Caller-Address header.
// POST /api/markets/{symbol}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	participant, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	symbol := pathParam(r, "symbol")

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	paid, ok := new(big.Int).SetString(req.Paid, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "paid must be a decimal wei string")
		return
	}

	place := h.bets.PlaceBet
	if req.Batch {
		place = h.bets.PlaceBatchBet
	}

	rec, err := place(r.Context(), participant, req.Nonce, symbol, req.Side, req.Tickets, paid)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: bet accepted",
		slog.String("id", rec.ID),
		slog.String("symbol", symbol),
		slog.String("participant", participant.Hex()),
		slog.Uint64("tickets", rec.Tickets),
	)

	writeJSON(w, http.StatusCreated, rec)
}
