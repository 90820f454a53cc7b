package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL. There
// is one row per futarchy app address.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Save upserts the checkpoint. A checkpoint never moves its cursor
// backwards.
func (s *CheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	const query = `
		INSERT INTO checkpoints (
			app_address, syncing, selected_account, cursor_block, cursor_log_index, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (app_address) DO UPDATE SET
			syncing          = EXCLUDED.syncing,
			selected_account = EXCLUDED.selected_account,
			cursor_block     = EXCLUDED.cursor_block,
			cursor_log_index = EXCLUDED.cursor_log_index,
			updated_at       = NOW()
		WHERE (checkpoints.cursor_block, checkpoints.cursor_log_index)
		   <= (EXCLUDED.cursor_block, EXCLUDED.cursor_log_index)`

	_, err := s.pool.Exec(ctx, query,
		strings.ToLower(cp.AppAddress), cp.Syncing, cp.SelectedAccount,
		int64(cp.Cursor.Block), int32(cp.Cursor.LogIndex),
	)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint %s: %w", cp.AppAddress, err)
	}
	return nil
}

// Load returns the checkpoint for appAddress, or domain.ErrNotFound.
func (s *CheckpointStore) Load(ctx context.Context, appAddress string) (domain.Checkpoint, error) {
	const query = `
		SELECT app_address, syncing, selected_account, cursor_block, cursor_log_index, updated_at
		FROM checkpoints WHERE app_address = $1`

	var (
		cp       domain.Checkpoint
		block    int64
		logIndex int32
	)
	err := s.pool.QueryRow(ctx, query, strings.ToLower(appAddress)).Scan(
		&cp.AppAddress, &cp.Syncing, &cp.SelectedAccount, &block, &logIndex, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Checkpoint{}, domain.ErrNotFound
		}
		return domain.Checkpoint{}, fmt.Errorf("postgres: load checkpoint %s: %w", appAddress, err)
	}
	cp.Cursor = domain.Cursor{Block: uint64(block), LogIndex: uint(logIndex)}
	return cp, nil
}

var _ domain.CheckpointStore = (*CheckpointStore)(nil)
