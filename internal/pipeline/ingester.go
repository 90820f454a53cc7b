package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Dispatcher queues events for the reducer and reports how far it got.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) error
	Cursor() domain.Cursor
}

// Ingester feeds chain events into the store, reconnecting the event source
// when its subscription fails. Each reconnect resumes after the store's
// committed cursor; replayed events are skipped by the store.
type Ingester struct {
	source         domain.EventSource
	store          Dispatcher
	reconnectDelay time.Duration
	logger         *slog.Logger
}

// NewIngester creates a new Ingester.
func NewIngester(source domain.EventSource, store Dispatcher, reconnectDelay time.Duration, logger *slog.Logger) *Ingester {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Ingester{
		source:         source,
		store:          store,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(slog.String("component", "ingester")),
	}
}

// RunLoop runs the event source until ctx is cancelled or the store is
// closed.
func (i *Ingester) RunLoop(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		after := i.store.Cursor()
		i.logger.InfoContext(ctx, "event source starting",
			slog.Uint64("after_block", after.Block),
			slog.Int("attempt", attempt),
		)

		err := i.source.Run(ctx, after, i.store.Dispatch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrStoreClosed) {
			return err
		}
		if err != nil {
			i.logger.WarnContext(ctx, "event source stopped, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", i.reconnectDelay),
			)
		}

		timer := time.NewTimer(i.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
