package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/futarchyd/internal/blob/s3"
	"github.com/alanyoungcy/futarchyd/internal/cache/redis"
	"github.com/alanyoungcy/futarchyd/internal/chain"
	"github.com/alanyoungcy/futarchyd/internal/config"
	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/notify"
	"github.com/alanyoungcy/futarchyd/internal/service"
	"github.com/alanyoungcy/futarchyd/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client // nil unless archiving is enabled

	// Stores
	MarketStore     domain.MarketStore
	CheckpointStore domain.CheckpointStore
	AuditStore      domain.AuditStore

	// Caches
	StateCache  domain.StateCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver *s3blob.Archiver // nil unless archiving is enabled

	// Chain
	ChainReader domain.ChainReader // nil unless indexing
	LogClient   chain.LogClient    // nil unless indexing
	ChainWriter domain.ChainWriter

	// Notifications; nil when no sender is configured.
	Notifier service.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		ChainWriter: chain.NewWriter(cfg.Chain.AppAddress),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations && cfg.Indexes() {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	} else if err := pgClient.CheckSchema(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.CheckpointStore = postgres.NewCheckpointStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		AppAddress: cfg.Chain.AppAddress,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.StateCache = redis.NewStateCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 snapshot archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.Archive.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			cfg.Archive.Prefix,
		)
	}

	// --- Chain ---
	if cfg.Indexes() {
		rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: dial rpc: %w", err))
		}
		closers = append(closers, rpc.Close)
		deps.ChainReader = chain.NewReader(rpc, cfg.Chain.AppAddress, cfg.Chain.ConditionalTokensAddress)
		deps.LogClient = rpc

		if cfg.Chain.WSURL != "" {
			ws, err := ethclient.DialContext(ctx, cfg.Chain.WSURL)
			if err != nil {
				return fail(fmt.Errorf("wire: dial ws: %w", err))
			}
			closers = append(closers, ws.Close)
			deps.LogClient = ws
		}
	}

	// --- Notifications ---
	n := notify.NewNotifier(
		notify.Senders(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.DiscordWebhookURL),
		cfg.Notify.Events,
		logger,
	)
	if n.Enabled() {
		deps.Notifier = n
	}

	return deps, cleanup, nil
}
