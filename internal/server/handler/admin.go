package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/barwars/ledgerd/internal/domain"
	"github.com/barwars/ledgerd/internal/service"
)

// AdminService defines the owner-gated operations the admin handler
// requires. Authorization against the owner role happens in the core; the
// API key gate in front of these routes only keeps the surface private.
type AdminService interface {
	CloseRound(ctx context.Context, symbol string) (domain.Round, error)
	Settle(ctx context.Context, caller domain.Participant, symbol string, period uint64, outcome domain.Outcome) (domain.SettlementRecord, error)
	SetFeeBps(ctx context.Context, caller domain.Participant, bps uint32) error
	TransferRole(caller, next domain.Participant) error
	Treasury() service.TreasuryView
}

// AdminHandler serves the admin surface.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// CloseRound forces the boundary check on a market's current round.
// POST /api/admin/markets/{symbol}/close
func (h *AdminHandler) CloseRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.admin.CloseRound(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// settleRequest is the JSON body of the manual settlement endpoint.
type settleRequest struct {
	Period  uint64         `json:"period"`
	Outcome domain.Outcome `json:"outcome"`
}

// Settle resolves a closed round with an explicit outcome, on behalf of the
// caller identified by X-Caller-Address. Only the owner passes the core's
// authorization check.
// POST /api/admin/markets/{symbol}/settle
func (h *AdminHandler) Settle(w http.ResponseWriter, r *http.Request) {
	participant, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := h.admin.Settle(r.Context(), participant, pathParam(r, "symbol"), req.Period, req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// feeRequest is the JSON body of the fee update endpoint.
type feeRequest struct {
	FeeBps uint32 `json:"fee_bps"`
}

// SetFee updates the house fee for rounds settled from now on.
// PUT /api/admin/fee
func (h *AdminHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	participant, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.admin.SetFeeBps(r.Context(), participant, req.FeeBps); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"fee_bps": req.FeeBps})
}

// transferRequest is the JSON body of the role transfer endpoint.
type transferRequest struct {
	Next string `json:"next"`
}

// TransferRole hands the owner role to another participant.
// POST /api/admin/owner
func (h *AdminHandler) TransferRole(w http.ResponseWriter, r *http.Request) {
	participant, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !common.IsHexAddress(req.Next) {
		writeError(w, http.StatusBadRequest, "next must be a hex address")
		return
	}

	if err := h.admin.TransferRole(participant, common.HexToAddress(req.Next)); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: owner role transferred",
		slog.String("from", participant.Hex()),
		slog.String("to", req.Next),
	)
	writeJSON(w, http.StatusOK, map[string]string{"owner": req.Next})
}

// Treasury returns the house treasury snapshot.
// GET /api/admin/treasury
func (h *AdminHandler) Treasury(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Treasury())
}
