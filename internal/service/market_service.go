package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// StateReader is the read side used by the HTTP API.
type StateReader interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int64, error)
	Market(ctx context.Context, conditionID string) (domain.Market, error)
}

// SnapshotSource yields the live committed snapshot.
type SnapshotSource interface {
	Snapshot() domain.Snapshot
}

// LiveReader serves reads straight from the in-process store.
type LiveReader struct {
	store SnapshotSource
}

// NewLiveReader creates a LiveReader over store.
func NewLiveReader(store SnapshotSource) *LiveReader {
	return &LiveReader{store: store}
}

// Snapshot returns the last committed snapshot.
func (r *LiveReader) Snapshot(context.Context) (domain.Snapshot, error) {
	return r.store.Snapshot(), nil
}

// Markets returns the filtered page and the unpaginated match count.
func (r *LiveReader) Markets(_ context.Context, opts domain.ListOpts) ([]domain.Market, int64, error) {
	page, total := FilterMarkets(r.store.Snapshot().State.Markets(), opts)
	return page, total, nil
}

// Market looks up one market.
func (r *LiveReader) Market(_ context.Context, conditionID string) (domain.Market, error) {
	m, ok := lookupFold(r.store.Snapshot().State, conditionID)
	if !ok {
		return domain.Market{}, fmt.Errorf("market %s: %w", conditionID, domain.ErrNotFound)
	}
	return m, nil
}

// PersistedReader serves reads in API-only processes: the snapshot from the
// redis cache, market queries from postgres.
type PersistedReader struct {
	cache   domain.StateCache
	markets domain.MarketStore
}

// NewPersistedReader creates a PersistedReader.
func NewPersistedReader(cache domain.StateCache, markets domain.MarketStore) *PersistedReader {
	return &PersistedReader{cache: cache, markets: markets}
}

// Snapshot returns the cached snapshot.
func (r *PersistedReader) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	snap, err := r.cache.GetSnapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("market_service: snapshot: %w", err)
	}
	return snap, nil
}

// Markets queries postgres.
func (r *PersistedReader) Markets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int64, error) {
	page, err := r.markets.List(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service: list: %w", err)
	}
	var total int64
	if opts.OpenOnly || opts.Since != nil || opts.Until != nil {
		all, err := r.markets.List(ctx, domain.ListOpts{OpenOnly: opts.OpenOnly, Since: opts.Since, Until: opts.Until})
		if err != nil {
			return nil, 0, fmt.Errorf("market_service: count: %w", err)
		}
		total = int64(len(all))
	} else if total, err = r.markets.Count(ctx); err != nil {
		return nil, 0, fmt.Errorf("market_service: count: %w", err)
	}
	return page, total, nil
}

// Market queries postgres.
func (r *PersistedReader) Market(ctx context.Context, conditionID string) (domain.Market, error) {
	m, err := r.markets.GetByConditionID(ctx, strings.ToLower(conditionID))
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %s: %w", conditionID, err)
	}
	return m, nil
}

// FilterMarkets applies opts to markets, which must be in arrival order. It
// returns the requested page and the number of markets matching the filters.
func FilterMarkets(markets []domain.Market, opts domain.ListOpts) ([]domain.Market, int64) {
	matched := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if opts.OpenOnly && !m.Open {
			continue
		}
		if opts.Since != nil && m.Timestamp < opts.Since.Unix() {
			continue
		}
		if opts.Until != nil && m.Timestamp > opts.Until.Unix() {
			continue
		}
		matched = append(matched, m)
	}
	total := int64(len(matched))

	if opts.Offset >= len(matched) {
		return []domain.Market{}, total
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, total
}

// lookupFold finds a market by condition ID ignoring hex case.
func lookupFold(s domain.State, conditionID string) (domain.Market, bool) {
	if m, ok := s.Market(conditionID); ok {
		return m, true
	}
	for _, id := range s.ConditionIDs() {
		if strings.EqualFold(id, conditionID) {
			return s.Market(id)
		}
	}
	return domain.Market{}, false
}
