package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// StateReader defines the read side the market and state handlers require.
// It is declared locally so the handler package does not depend on the
// concrete service implementation.
type StateReader interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int64, error)
	Market(ctx context.Context, conditionID string) (domain.Market, error)
}

// MarketHandler serves the derived state and market endpoints.
type MarketHandler struct {
	reader StateReader
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given reader and logger.
func NewMarketHandler(reader StateReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		reader: reader,
		now:    time.Now,
		logger: logHandler(logger, "market"),
	}
}

// marketView adds the display status to a market.
type marketView struct {
	domain.Market
	Status domain.MarketStatus `json:"status"`
}

func (h *MarketHandler) views(markets []domain.Market) []marketView {
	now := h.now()
	out := make([]marketView, len(markets))
	for i, m := range markets {
		out[i] = marketView{Market: m, Status: m.Status(now)}
	}
	return out
}

// stateResponse is the presentation-layer state plus its chain position.
type stateResponse struct {
	Syncing         bool          `json:"syncing"`
	SelectedAccount *string       `json:"selectedAccount"`
	Markets         []marketView  `json:"markets"`
	Cursor          domain.Cursor `json:"cursor"`
	TakenAt         time.Time     `json:"takenAt"`
}

// GetState returns the whole derived state.
// GET /api/state
func (h *MarketHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reader.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusServiceUnavailable, "state not available yet")
			return
		}
		h.logger.ErrorContext(r.Context(), "get state failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get state")
		return
	}

	resp := stateResponse{
		Syncing: snap.State.Syncing,
		Markets: h.views(snap.State.Markets()),
		Cursor:  snap.Cursor,
		TakenAt: snap.TakenAt,
	}
	if acct := snap.State.SelectedAccount; acct != "" {
		resp.SelectedAccount = &acct
	}
	writeJSON(w, http.StatusOK, resp)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets in arrival order with pagination.
// GET /api/markets?limit=50&offset=0&open=true&since=&until=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	markets, total, err := h.reader.Markets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: h.views(markets),
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its condition ID.
// GET /api/markets/{conditionId}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := conditionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.reader.Market(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.String("condition_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, h.views([]domain.Market{market})[0])
}
