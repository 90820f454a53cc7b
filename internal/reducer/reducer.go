// Package reducer folds the ordered futarchy event stream into the derived
// market list.
package reducer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/enricher"
)

// OutcomeEnricher recomputes the outcomes of one market.
type OutcomeEnricher interface {
	Enrich(ctx context.Context, req enricher.Request) ([]domain.Outcome, error)
}

// Reducer applies one event to a state. It owns no state itself; Store
// serializes calls to it.
type Reducer struct {
	reader   domain.ChainReader
	enricher OutcomeEnricher
	logger   *slog.Logger
}

// New creates a Reducer reading market metadata from reader.
func New(reader domain.ChainReader, enr OutcomeEnricher, logger *slog.Logger) *Reducer {
	return &Reducer{
		reader:   reader,
		enricher: enr,
		logger:   logger.With(slog.String("component", "reducer")),
	}
}

// Reduce returns the state that results from applying ev to s. The input is
// never modified. On failure the input state is returned unchanged together
// with a typed error, except for account changes: there the new account and
// every market that re-enriched successfully are kept, and the per-market
// failures are joined into the error. Unknown event kinds are a no-op.
func (r *Reducer) Reduce(ctx context.Context, s domain.State, ev domain.Event) (domain.State, error) {
	var (
		next domain.State
		err  error
	)
	switch ev.Kind {
	case domain.EventSyncStarted:
		return s.WithSyncing(true), nil
	case domain.EventSyncFinished:
		return s.WithSyncing(false), nil
	case domain.EventAccountChanged:
		return r.accountChanged(ctx, s, ev)
	case domain.EventCreateMarket:
		next, err = r.createMarket(ctx, s, ev)
	case domain.EventTrade:
		next, err = r.trade(ctx, s, ev)
	case domain.EventCloseMarket:
		next, err = r.closeMarket(ctx, s, ev)
	case domain.EventRedeemPositions:
		next, err = r.redeemPositions(ctx, s, ev)
	default:
		r.logger.DebugContext(ctx, "ignoring unknown event", slog.String("event", string(ev.Kind)))
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reducer: %s: %w", ev.Kind, err)
	}
	return next, nil
}

// Fold applies events in order. A failed event does not stop the fold. The
// errors are returned in event order, nil for events that applied cleanly.
func (r *Reducer) Fold(ctx context.Context, s domain.State, events ...domain.Event) (domain.State, []error) {
	errs := make([]error, len(events))
	for i, ev := range events {
		s, errs[i] = r.Reduce(ctx, s, ev)
	}
	return s, errs
}
