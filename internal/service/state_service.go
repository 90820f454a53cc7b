package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/notify"
	"github.com/alanyoungcy/futarchyd/internal/reducer"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, a notify.Alert) error
}

// SnapshotLoader returns an archived snapshot.
type SnapshotLoader interface {
	Latest(ctx context.Context) (domain.Snapshot, error)
}

// StateService persists and publishes every commit of the store, and seeds
// the store from the last persisted snapshot on start. Every dependency
// except the market and checkpoint stores may be nil.
type StateService struct {
	appAddress  string
	markets     domain.MarketStore
	checkpoints domain.CheckpointStore
	audit       domain.AuditStore
	cache       domain.StateCache
	bus         domain.SignalBus
	notifier    Notifier
	archive     SnapshotLoader
	logger      *slog.Logger
	now         func() time.Time
}

// StateDeps groups the optional collaborators of a StateService.
type StateDeps struct {
	Audit    domain.AuditStore
	Cache    domain.StateCache
	Bus      domain.SignalBus
	Notifier Notifier
	Archive  SnapshotLoader
}

// NewStateService creates a StateService for the futarchy app at appAddress.
func NewStateService(
	appAddress string,
	markets domain.MarketStore,
	checkpoints domain.CheckpointStore,
	deps StateDeps,
	logger *slog.Logger,
) *StateService {
	return &StateService{
		appAddress:  appAddress,
		markets:     markets,
		checkpoints: checkpoints,
		audit:       deps.Audit,
		cache:       deps.Cache,
		bus:         deps.Bus,
		notifier:    deps.Notifier,
		archive:     deps.Archive,
		logger:      logger.With(slog.String("component", "state_service")),
		now:         time.Now,
	}
}

// Restore returns the last persisted snapshot. Postgres is authoritative;
// the redis cache and then the object-store archive are tried when it has
// nothing. An empty snapshot is returned when no source has one.
func (s *StateService) Restore(ctx context.Context) (domain.Snapshot, error) {
	snap, err := s.restoreFromStore(ctx)
	switch {
	case err == nil:
		s.logRestore(ctx, "postgres", snap)
		return snap, nil
	case !errors.Is(err, domain.ErrNotFound):
		s.logger.WarnContext(ctx, "restore from postgres failed", slog.String("error", err.Error()))
	}

	if s.cache != nil {
		snap, err := s.cache.GetSnapshot(ctx)
		if err == nil {
			s.logRestore(ctx, "redis", snap)
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "restore from redis failed", slog.String("error", err.Error()))
		}
	}

	if s.archive != nil {
		snap, err := s.archive.Latest(ctx)
		if err == nil {
			s.logRestore(ctx, "archive", snap)
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "restore from archive failed", slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "no persisted snapshot, starting empty")
	return domain.Snapshot{State: domain.NewState(), TakenAt: s.now().UTC()}, nil
}

func (s *StateService) restoreFromStore(ctx context.Context) (domain.Snapshot, error) {
	cp, err := s.checkpoints.Load(ctx, s.appAddress)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("state_service: load checkpoint: %w", err)
	}
	markets, err := s.markets.ListAll(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("state_service: list markets: %w", err)
	}

	state := domain.NewState().
		WithSyncing(cp.Syncing).
		WithSelectedAccount(cp.SelectedAccount)
	for _, m := range markets {
		state = state.WithMarket(m)
	}
	return domain.Snapshot{State: state, Cursor: cp.Cursor, TakenAt: cp.UpdatedAt}, nil
}

func (s *StateService) logRestore(ctx context.Context, source string, snap domain.Snapshot) {
	s.logger.InfoContext(ctx, "snapshot restored",
		slog.String("source", source),
		slog.Int("markets", snap.State.Len()),
		slog.Uint64("cursor_block", snap.Cursor.Block),
	)
}

// OnCommit is a reducer.CommitHook. Failures are logged; the store keeps
// going and the next commit overwrites whatever was missed.
func (s *StateService) OnCommit(ctx context.Context, c reducer.Commit) {
	changed := c.Changed()

	if err := s.persist(ctx, c, changed); err != nil {
		s.logger.ErrorContext(ctx, "persist commit failed",
			slog.String("event", string(c.Event.Kind)),
			slog.String("error", err.Error()),
		)
	}

	snap := domain.Snapshot{State: c.Next, Cursor: c.Cursor, TakenAt: s.now().UTC()}
	if s.cache != nil {
		if err := s.cache.SetSnapshot(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "cache snapshot failed", slog.String("error", err.Error()))
		}
	}

	if s.bus != nil {
		s.publish(ctx, c, changed)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, auditEvent(c), auditDetail(c, changed)); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil && !c.Next.Syncing {
		s.notify(ctx, c)
	}
}

func (s *StateService) persist(ctx context.Context, c reducer.Commit, changed []string) error {
	if len(changed) > 0 {
		markets := make([]domain.Market, 0, len(changed))
		for _, id := range changed {
			m, _ := c.Next.Market(id)
			markets = append(markets, m)
		}
		if err := s.markets.UpsertBatch(ctx, markets); err != nil {
			return fmt.Errorf("state_service: upsert markets: %w", err)
		}
	}

	cp := domain.Checkpoint{
		AppAddress:      s.appAddress,
		Syncing:         c.Next.Syncing,
		SelectedAccount: c.Next.SelectedAccount,
		Cursor:          c.Cursor,
	}
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("state_service: save checkpoint: %w", err)
	}
	return nil
}

func (s *StateService) publish(ctx context.Context, c reducer.Commit, changed []string) {
	u := domain.Update{
		Type:    "state",
		Event:   c.Event.Kind,
		Changed: changed,
		Cursor:  c.Cursor,
		State:   c.Next,
	}
	if c.Err != nil {
		u.Error = c.Err.Error()
	}
	payload, err := json.Marshal(u)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal update failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelState, payload); err != nil {
		s.logger.WarnContext(ctx, "publish update failed", slog.String("error", err.Error()))
	}

	if !c.Event.FromChain() {
		return
	}
	ev, err := json.Marshal(c.Event)
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamEvents, ev); err != nil {
		s.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
}

func (s *StateService) notify(ctx context.Context, c reducer.Commit) {
	var alert notify.Alert
	now := s.now().UTC()

	var enrichErr *domain.EnrichmentError
	switch {
	case errors.As(c.Err, &enrichErr):
		alert = notify.EnrichmentFailed(c.Event.Kind, enrichErr, now)
	case c.Err != nil:
		return
	case c.Event.Kind == domain.EventCreateMarket, c.Event.Kind == domain.EventCloseMarket:
		m, ok := c.Next.Market(c.Event.ConditionID)
		if !ok {
			return
		}
		if c.Event.Kind == domain.EventCreateMarket {
			alert = notify.MarketCreated(m, now)
		} else {
			alert = notify.MarketClosed(m, now)
		}
	default:
		return
	}

	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", alert.Event),
			slog.String("error", err.Error()),
		)
	}
}

func auditEvent(c reducer.Commit) string {
	if c.Err != nil {
		return "reducer.failed"
	}
	return "reducer.applied"
}

func auditDetail(c reducer.Commit, changed []string) map[string]any {
	d := map[string]any{
		"kind":         string(c.Event.Kind),
		"cursor_block": c.Cursor.Block,
		"cursor_log":   c.Cursor.LogIndex,
		"changed":      len(changed),
	}
	if c.Event.ConditionID != "" {
		d["condition_id"] = c.Event.ConditionID
	}
	if c.Event.TxHash != "" {
		d["tx_hash"] = c.Event.TxHash
	}
	if c.Err != nil {
		d["error"] = c.Err.Error()
	}
	return d
}
