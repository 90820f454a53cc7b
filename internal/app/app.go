// Package app runs futarchyd. Wire connects the stores, caches and chain
// clients; the mode decides whether this process indexes the futarchy app,
// serves the API, or both.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/futarchyd/internal/config"
)

// App owns the configuration and the resources opened by Wire.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	cleanup   func()
	closeOnce sync.Once
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// modeRunner starts the goroutines of one operating mode and blocks until
// they stop.
type modeRunner func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeRunner{
	"index": (*App).IndexMode,
	"serve": (*App).ServeMode,
	"full":  (*App).FullMode,
}

// Run wires dependencies and runs the configured mode until ctx is
// cancelled, which is a clean shutdown and returns nil.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting futarchyd",
		slog.String("mode", mode),
		slog.String("app_address", strings.ToLower(a.cfg.Chain.AppAddress)),
		slog.Bool("indexes", a.cfg.Indexes()),
		slog.Bool("serves", a.cfg.Serves()),
		slog.Bool("archive", a.cfg.Archive.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	err = run(a, ctx, deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("app: %s mode: %w", mode, err)
	}
	return nil
}

// Close releases everything Wire opened. Later calls do nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down futarchyd")
		if a.cleanup != nil {
			a.cleanup()
		}
	})
}
