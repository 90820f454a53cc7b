package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// StateCache implements domain.StateCache. The whole snapshot is stored as
// one JSON string with no TTL so readers never observe a half-applied commit.
type StateCache struct {
	rdb *redis.Client
	key string
}

// NewStateCache creates a StateCache for c's app.
func NewStateCache(c *Client) *StateCache {
	return &StateCache{rdb: c.rdb, key: c.key("snapshot")}
}

// SetSnapshot replaces the cached snapshot.
func (sc *StateCache) SetSnapshot(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, sc.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (sc *StateCache) GetSnapshot(ctx context.Context) (domain.Snapshot, error) {
	data, err := sc.rdb.Get(ctx, sc.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.StateCache = (*StateCache)(nil)
