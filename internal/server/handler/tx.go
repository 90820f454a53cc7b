package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// TxHandler builds unsigned calldata for the futarchy app's write calls.
type TxHandler struct {
	writer domain.ChainWriter
	logger *slog.Logger
}

// NewTxHandler creates a TxHandler.
func NewTxHandler(writer domain.ChainWriter, logger *slog.Logger) *TxHandler {
	return &TxHandler{writer: writer, logger: logHandler(logger, "tx")}
}

// BuildTx returns {to, data, value} for a wallet to sign and submit.
// POST /api/tx/{call}
func (h *TxHandler) BuildTx(w http.ResponseWriter, r *http.Request) {
	call := domain.WriteCall(r.PathValue("call"))

	var args domain.WriteArgs
	if err := decodeBody(w, r, &args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := h.writer.Build(call, args)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCall) {
			writeError(w, http.StatusNotFound, "unknown call "+string(call))
			return
		}
		h.logger.DebugContext(r.Context(), "build tx rejected",
			slog.String("call", string(call)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "tx built",
		append(callerAttrs(r), slog.String("call", string(call)), slog.String("to", tx.To))...,
	)
	writeJSON(w, http.StatusOK, tx)
}
