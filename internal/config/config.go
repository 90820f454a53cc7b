// Package config defines the top-level configuration for futarchyd and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUTARCHY_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Reducer  ReducerConfig  `toml:"reducer"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the JSON-RPC endpoint and the futarchy contract
// addresses.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`
	// WSURL is used for the live log subscription. When empty RPCURL must be
	// a websocket endpoint.
	WSURL                    string   `toml:"ws_url"`
	AppAddress               string   `toml:"app_address"`
	ConditionalTokensAddress string   `toml:"conditional_tokens_address"`
	StartBlock               uint64   `toml:"start_block"`
	BackfillChunk            uint64   `toml:"backfill_chunk"`
	CallTimeout              duration `toml:"call_timeout"`
	ReconnectDelay           duration `toml:"reconnect_delay"`
}

// ReducerConfig holds the event queue parameters.
type ReducerConfig struct {
	QueueSize int `toml:"queue_size"`
	// Overflow is "block" or "drop_oldest".
	Overflow string `toml:"overflow"`
	// Retries bounds re-application of a chain event whose reads failed.
	Retries      int      `toml:"retries"`
	RetryBackoff duration `toml:"retry_backoff"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// LockTTL bounds how long a crashed indexer keeps the leader lock.
	LockTTL duration `toml:"lock_ttl"`
	// StreamMaxLen caps the committed-event stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic snapshot export to S3.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the mutating endpoints. Empty disables the check.
	APIKey string `toml:"api_key"`
	// RateLimit caps mutating requests per client IP per minute. Zero
	// disables the limit.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "ws://localhost:8545",
			BackfillChunk:  5000,
			CallTimeout:    duration{10 * time.Second},
			ReconnectDelay: duration{5 * time.Second},
		},
		Reducer: ReducerConfig{
			QueueSize:    1024,
			Overflow:     "block",
			Retries:      3,
			RetryBackoff: duration{time.Second},
		},
		Supabase: SupabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			LockTTL:      duration{30 * time.Second},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "futarchy-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 3 * * *",
			Prefix:  "snapshots",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_closed", "enrichment_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"index": true,
	"serve": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOverflow = map[string]bool{
	"block":       true,
	"drop_oldest": true,
}

// Indexes reports whether the mode runs the event source and reducer.
func (c *Config) Indexes() bool {
	m := strings.ToLower(c.Mode)
	return m == "index" || m == "full"
}

// Serves reports whether the mode runs the HTTP server.
func (c *Config) Serves() bool {
	m := strings.ToLower(c.Mode)
	return (m == "serve" || m == "full") && c.Server.Enabled
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: index, serve, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain is only needed where events are indexed or calldata is built.
	if c.Indexes() || c.Serves() {
		if !common.IsHexAddress(c.Chain.AppAddress) {
			errs = append(errs, fmt.Sprintf("chain: app_address %q is not a hex address", c.Chain.AppAddress))
		}
		if c.Chain.ConditionalTokensAddress != "" && !common.IsHexAddress(c.Chain.ConditionalTokensAddress) {
			errs = append(errs, fmt.Sprintf("chain: conditional_tokens_address %q is not a hex address", c.Chain.ConditionalTokensAddress))
		}
	}
	if c.Indexes() {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.BackfillChunk == 0 {
			errs = append(errs, "chain: backfill_chunk must be > 0")
		}
		if c.Chain.CallTimeout.Duration <= 0 {
			errs = append(errs, "chain: call_timeout must be > 0")
		}
	}

	// Reducer
	if c.Reducer.QueueSize < 1 {
		errs = append(errs, "reducer: queue_size must be >= 1")
	}
	if !validOverflow[c.Reducer.Overflow] {
		errs = append(errs, fmt.Sprintf("reducer: unknown overflow %q (valid: block, drop_oldest)", c.Reducer.Overflow))
	}
	if c.Reducer.Retries < 0 {
		errs = append(errs, "reducer: retries must be >= 0")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Indexes() && c.Redis.LockTTL.Duration < time.Second {
		errs = append(errs, "redis: lock_ttl must be at least 1s")
	}

	// S3 / Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
