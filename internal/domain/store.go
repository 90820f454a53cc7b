package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	OpenOnly bool
	Since    *time.Time
	Until    *time.Time

	// Event and ConditionID filter audit entries. An Event ending in "."
	// matches every event with that prefix, e.g. "reducer.".
	Event       string
	ConditionID string
}

// MarketStore persists derived markets. Rows keep the order in which they
// were first inserted.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByConditionID(ctx context.Context, conditionID string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListAll(ctx context.Context) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// Checkpoint is the non-market part of a persisted snapshot.
type Checkpoint struct {
	AppAddress      string
	Syncing         bool
	SelectedAccount string
	Cursor          Cursor
	UpdatedAt       time.Time
}

// CheckpointStore persists the indexer position for one futarchy app.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, appAddress string) (Checkpoint, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
