package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/futarchyd/internal/chain"
	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/enricher"
	"github.com/alanyoungcy/futarchyd/internal/pipeline"
	"github.com/alanyoungcy/futarchyd/internal/reducer"
	"github.com/alanyoungcy/futarchyd/internal/server"
	"github.com/alanyoungcy/futarchyd/internal/server/handler"
	"github.com/alanyoungcy/futarchyd/internal/server/ws"
	"github.com/alanyoungcy/futarchyd/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// IndexMode runs the event source and reducer and persists every commit.
// Account changes arrive from API processes over the command channel.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")
	g, ctx := errgroup.WithContext(ctx)

	if _, err := a.startIndexer(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ServeMode runs only the HTTP API. State is read from the redis snapshot
// and postgres; account changes are relayed to the indexer.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	g, ctx := errgroup.WithContext(ctx)

	reader := service.NewPersistedReader(deps.StateCache, deps.MarketStore)
	relay := service.NewCommandRelay(deps.SignalBus, a.logger)
	a.startServer(ctx, g, deps, reader, relay)

	return g.Wait()
}

// FullMode runs the indexer and the HTTP API in one process. Reads come
// straight from the in-memory store.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	store, err := a.startIndexer(ctx, g, deps)
	if err != nil {
		return err
	}
	if a.cfg.Serves() {
		a.startServer(ctx, g, deps, service.NewLiveReader(store), service.NewDirectSwitcher(store))
	}

	return g.Wait()
}

// startIndexer takes the leader lock, restores the last snapshot and starts
// the store, ingester, archiver and command relay on g.
func (a *App) startIndexer(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*reducer.Store, error) {
	cfg := a.cfg
	lockKey := "indexer"
	ttl := cfg.Redis.LockTTL.Duration

	lock, err := deps.LockManager.Acquire(ctx, lockKey, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: another indexer is running for %s", cfg.Chain.AppAddress)
		}
		return nil, fmt.Errorf("app: acquire leader lock: %w", err)
	}
	g.Go(func() error {
		defer lock.Release()
		return holdLock(ctx, lock, ttl)
	})

	stateDeps := service.StateDeps{
		Audit:    deps.AuditStore,
		Cache:    deps.StateCache,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
	}
	if deps.Archiver != nil {
		stateDeps.Archive = deps.Archiver
	}
	stateSvc := service.NewStateService(
		strings.ToLower(cfg.Chain.AppAddress),
		deps.MarketStore,
		deps.CheckpointStore,
		stateDeps,
		a.logger,
	)

	snap, err := stateSvc.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: restore: %w", err)
	}

	enr := enricher.New(deps.ChainReader, cfg.Chain.CallTimeout.Duration, a.logger)
	red := reducer.New(deps.ChainReader, enr, a.logger)
	store := reducer.NewStore(red, snap.State, reducer.Options{
		QueueSize:    cfg.Reducer.QueueSize,
		Overflow:     reducer.OverflowPolicy(cfg.Reducer.Overflow),
		Cursor:       snap.Cursor,
		Hooks:        []reducer.CommitHook{stateSvc.OnCommit},
		Logger:       a.logger,
		Retries:      cfg.Reducer.Retries,
		RetryBackoff: cfg.Reducer.RetryBackoff.Duration,
	})

	source := chain.NewEventSource(deps.LogClient, chain.SourceConfig{
		AppAddress: cfg.Chain.AppAddress,
		StartBlock: cfg.Chain.StartBlock,
		Chunk:      cfg.Chain.BackfillChunk,
	}, a.logger)
	ingester := pipeline.NewIngester(source, store, cfg.Chain.ReconnectDelay.Duration, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(store.Snapshot, deps.Archiver, a.logger)
	}
	orch := pipeline.NewOrchestrator(store, ingester, archiver, cfg.Archive.Cron, a.logger)

	g.Go(func() error {
		defer store.Close()
		return orch.Run(ctx)
	})

	relay := service.NewCommandRelay(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := relay.Forward(ctx, store)
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrStoreClosed) {
			return nil
		}
		return err
	})

	return store, nil
}

// holdLock refreshes the leader lock every third of its TTL. Losing the lock
// is fatal so that two indexers never write the same app.
func holdLock(ctx context.Context, lock domain.Lock, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lock.Refresh(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("app: leader lock lost: %w", err)
			}
		}
	}
}

// startServer starts the websocket hub and the HTTP server on g.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	reader service.StateReader,
	switcher service.AccountSwitcher,
) {
	cfg := a.cfg

	checks := map[string]handler.Pinger{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	hub := ws.NewHub(deps.SignalBus, reader.Snapshot, cfg.Server.CORSOrigins, a.logger)
	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(strings.ToLower(cfg.Mode), checks, a.logger),
		Markets: handler.NewMarketHandler(reader, a.logger),
		Account: handler.NewAccountHandler(switcher, a.logger),
		Tx:      handler.NewTxHandler(deps.ChainWriter, a.logger),
		Events:  handler.NewEventHandler(deps.SignalBus, deps.AuditStore, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
