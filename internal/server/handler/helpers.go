// Package handler implements the HTTP API: market reads, wagering, account
// views, and the owner-gated admin surface.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/barwars/ledgerd/internal/domain"
)

// callerHeader carries the host-authenticated account identity. The host in
// front of this API is trusted to have verified it; the ledger itself never
// checks signatures.
const callerHeader = "X-Caller-Address"

// writeJSON marshals v as JSON and writes it with the given status code. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain sentinel error to an HTTP status and writes
// it. Unrecognized errors become a logged 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := domainStatus(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownMarket), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidFee),
		errors.Is(err, domain.ErrInvalidOutcome):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoundNotOpen),
		errors.Is(err, domain.ErrRoundNotClosed),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrStaleNonce):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// caller extracts the authenticated participant from the identity header.
func caller(r *http.Request) (domain.Participant, error) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		return domain.Participant{}, errors.New("missing " + callerHeader + " header")
	}
	if !common.IsHexAddress(raw) {
		return domain.Participant{}, errors.New("malformed " + callerHeader + " header")
	}
	return common.HexToAddress(raw), nil
}

// pathParam extracts a named path parameter using Go 1.22+ routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
