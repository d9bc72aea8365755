package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/barwars/ledgerd/internal/domain"
)

// AccountService defines the account read methods the handler requires.
type AccountService interface {
	AccountOf(p domain.Participant) domain.Account
	PositionOf(symbol string, p domain.Participant) (domain.Position, error)
	PayoutPreview(symbol string, p domain.Participant) (domain.PayoutPreview, error)
}

// AccountHandler serves participant balance and position endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// GetAccount returns a participant's cross-market ticket balance and
// accumulated winnings.
// GET /api/accounts/{address}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "malformed address")
		return
	}
	writeJSON(w, http.StatusOK, h.accounts.AccountOf(common.HexToAddress(raw)))
}

// GetPosition returns a participant's open position in one market's current
// round.
// GET /api/markets/{symbol}/positions/{address}
func (h *AccountHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "malformed address")
		return
	}

	pos, err := h.accounts.PositionOf(pathParam(r, "symbol"), common.HexToAddress(raw))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPayoutPreview returns the projected payout of a participant's open
// position under each outcome, at the pool's current size.
// GET /api/markets/{symbol}/positions/{address}/preview
func (h *AccountHandler) GetPayoutPreview(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "malformed address")
		return
	}

	pv, err := h.accounts.PayoutPreview(pathParam(r, "symbol"), common.HexToAddress(raw))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}
