package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// EventHandler exposes the committed-event stream and the audit log.
type EventHandler struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. Either dependency may be nil, in
// which case its endpoint answers 503.
func NewEventHandler(bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, audit: audit, logger: logHandler(logger, "events")}
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents pages through committed chain events.
// GET /api/events?after=0-0&count=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0-0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamEvents, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, streamEntry{ID: m.ID, Event: m.Payload})
	}

	next := after
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&offset=0&since=&until=&event=reducer.&market=0x...
func (h *EventHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}

	opts, err := parseAuditOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": opts.Limit, "offset": opts.Offset})
}
