// Package redis implements the snapshot cache, the update bus, the indexer
// leader lock and the API rate limiter using go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const clientName = "futarchyd"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// AppAddress scopes every key this process owns, so indexers for
	// different futarchy apps can share one Redis.
	AppAddress string
}

// Client is a Redis connection scoped to one futarchy app.
//
// Key schema:
//
//	futarchy:{app}:snapshot        cached domain.Snapshot
//	futarchy:{app}:lock:{name}     leader locks
//	futarchy:{app}:ratelimit:{key} API sliding windows
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AppAddress) == "" {
		return nil, fmt.Errorf("redis: app address is required")
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		ClientName:   clientName,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := newClient(redis.NewClient(opts), cfg.AppAddress)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(rdb *redis.Client, appAddress string) *Client {
	return &Client{rdb: rdb, namespace: "futarchy:" + strings.ToLower(strings.TrimSpace(appAddress))}
}

// key joins parts under the app namespace.
func (c *Client) key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
