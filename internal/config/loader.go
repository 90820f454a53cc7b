package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUTARCHY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUTARCHY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FUTARCHY_CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "FUTARCHY_CHAIN_WS_URL")
	setStr(&cfg.Chain.AppAddress, "FUTARCHY_CHAIN_APP_ADDRESS")
	setStr(&cfg.Chain.ConditionalTokensAddress, "FUTARCHY_CHAIN_CONDITIONAL_TOKENS_ADDRESS")
	setUint64(&cfg.Chain.StartBlock, "FUTARCHY_CHAIN_START_BLOCK")
	setUint64(&cfg.Chain.BackfillChunk, "FUTARCHY_CHAIN_BACKFILL_CHUNK")
	setDuration(&cfg.Chain.CallTimeout, "FUTARCHY_CHAIN_CALL_TIMEOUT")
	setDuration(&cfg.Chain.ReconnectDelay, "FUTARCHY_CHAIN_RECONNECT_DELAY")

	// ── Reducer ──
	setInt(&cfg.Reducer.QueueSize, "FUTARCHY_REDUCER_QUEUE_SIZE")
	setStr(&cfg.Reducer.Overflow, "FUTARCHY_REDUCER_OVERFLOW")
	setInt(&cfg.Reducer.Retries, "FUTARCHY_REDUCER_RETRIES")
	setDuration(&cfg.Reducer.RetryBackoff, "FUTARCHY_REDUCER_RETRY_BACKOFF")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "FUTARCHY_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "FUTARCHY_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "FUTARCHY_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "FUTARCHY_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "FUTARCHY_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "FUTARCHY_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "FUTARCHY_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "FUTARCHY_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "FUTARCHY_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "FUTARCHY_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "FUTARCHY_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUTARCHY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTARCHY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTARCHY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUTARCHY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUTARCHY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUTARCHY_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "FUTARCHY_REDIS_LOCK_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "FUTARCHY_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUTARCHY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTARCHY_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTARCHY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTARCHY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTARCHY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUTARCHY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUTARCHY_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FUTARCHY_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "FUTARCHY_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "FUTARCHY_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUTARCHY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUTARCHY_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUTARCHY_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUTARCHY_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FUTARCHY_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUTARCHY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUTARCHY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUTARCHY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUTARCHY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUTARCHY_MODE")
	setStr(&cfg.LogLevel, "FUTARCHY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
