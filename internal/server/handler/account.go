package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/server/middleware"
)

// AccountSwitcher changes the account whose balances are shown.
type AccountSwitcher interface {
	SelectAccount(ctx context.Context, account string) error
}

// AccountHandler serves the account selection endpoint.
type AccountHandler struct {
	switcher AccountSwitcher
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(switcher AccountSwitcher, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{switcher: switcher, logger: logHandler(logger, "account")}
}

type selectAccountRequest struct {
	// Account is a hex address, or null/empty to disconnect.
	Account *string `json:"account"`
}

// SelectAccount queues an account change. The new balances appear once the
// reducer has re-enriched every market.
// PUT /api/account
func (h *AccountHandler) SelectAccount(w http.ResponseWriter, r *http.Request) {
	var req selectAccountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account := ""
	if req.Account != nil {
		account = strings.TrimSpace(*req.Account)
	}
	if account != "" {
		if !common.IsHexAddress(account) {
			writeError(w, http.StatusBadRequest, "account is not a hex address")
			return
		}
		account = strings.ToLower(account)
	}

	if err := h.switcher.SelectAccount(r.Context(), account); err != nil {
		if errors.Is(err, domain.ErrStoreClosed) {
			writeError(w, http.StatusServiceUnavailable, "indexer is shutting down")
			return
		}
		h.logger.ErrorContext(r.Context(), "select account failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to select account")
		return
	}

	h.logger.InfoContext(r.Context(), "account change queued",
		append(callerAttrs(r), slog.String("account", account))...,
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"account": req.Account})
}

// callerAttrs describes who asked for a guarded operation.
func callerAttrs(r *http.Request) []any {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return nil
	}
	attrs := []any{slog.String("client_ip", c.IP)}
	if c.KeyID != "" {
		attrs = append(attrs, slog.String("key_id", c.KeyID))
	}
	return attrs
}
