package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Runner is a long-running component that stops when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the indexing goroutines: the store's apply loop, the
// event ingester and, when configured, the snapshot archiver cron.
type Orchestrator struct {
	store       Runner
	ingester    *Ingester
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver may be nil to disable
// snapshot archiving.
func NewOrchestrator(
	store Runner,
	ingester *Ingester,
	archiver *Archiver,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		ingester:    ingester,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts all sub-pipelines as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return clean(ctx, "store", o.store.Run(ctx))
	})

	g.Go(func() error {
		return clean(ctx, "ingester", o.ingester.RunLoop(ctx))
	})

	if o.archiver != nil {
		g.Go(func() error {
			return clean(ctx, "archiver", o.archiver.RunCron(ctx, o.archiveCron))
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// clean maps shutdown-induced errors to nil.
func clean(ctx context.Context, name string, err error) error {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrStoreClosed) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
