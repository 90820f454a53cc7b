package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// maxBodyBytes caps request bodies of the mutating endpoints.
const maxBodyBytes = 64 << 10

// List paging bounds.
const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after request body")
	}
	return nil
}

// parseListOpts reads limit, offset, open, since and until. A limit above
// maxLimit is clamped; malformed values are rejected so a typo is not
// silently served as an unfiltered page. since and until take unix seconds
// or RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("limit must be a positive integer, got %q", v)
		}
		opts.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("offset must be a non-negative integer, got %q", v)
		}
		opts.Offset = n
	}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("open must be a boolean, got %q", v)
		}
		opts.OpenOnly = open
	}

	var err error
	if opts.Since, err = parseTime("since", q.Get("since")); err != nil {
		return opts, err
	}
	if opts.Until, err = parseTime("until", q.Get("until")); err != nil {
		return opts, err
	}
	if opts.Since != nil && opts.Until != nil && opts.Since.After(*opts.Until) {
		return opts, errors.New("since must not be after until")
	}
	return opts, nil
}

// parseAuditOpts adds the audit filters: event, an exact name or a prefix
// ending in ".", and market, a condition ID.
func parseAuditOpts(r *http.Request) (domain.ListOpts, error) {
	opts, err := parseListOpts(r)
	if err != nil {
		return opts, err
	}
	q := r.URL.Query()
	opts.Event = strings.TrimSpace(q.Get("event"))
	if v := q.Get("market"); v != "" {
		id, err := normalizeConditionID(v)
		if err != nil {
			return opts, err
		}
		opts.ConditionID = id
	}
	return opts, nil
}

func parseTime(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(n, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be unix seconds or RFC 3339, got %q", name, v)
	}
	return &t, nil
}

// conditionIDParam returns the {conditionId} path value in the lower-case
// form the indexer stores: 0x followed by at most 32 bytes of hex.
func conditionIDParam(r *http.Request) (string, error) {
	return normalizeConditionID(r.PathValue("conditionId"))
}

func normalizeConditionID(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	digits, ok := strings.CutPrefix(id, "0x")
	if !ok || digits == "" || len(digits) > 64 {
		return "", fmt.Errorf("condition id must be 0x-prefixed hex, got %q", id)
	}
	for _, c := range digits {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("condition id must be 0x-prefixed hex, got %q", id)
		}
	}
	return id, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
