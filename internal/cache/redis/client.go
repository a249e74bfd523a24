// Package redis backs the bot's shared state with go-redis/v9: quote cache,
// per-venue and per-client rate limits, execution locks and the event bus.
// Every key and channel is placed under one namespace so several bots can
// share a server.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes keys when ClientConfig.Namespace is empty.
const DefaultNamespace = "dexbot"

const pingTimeout = 3 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string
}

// Client is a namespaced go-redis client.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New dials Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts), ns: namespace(cfg.Namespace)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adapts an existing go-redis client under the default namespace.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, ns: DefaultNamespace}
}

func namespace(ns string) string {
	ns = strings.Trim(ns, ": ")
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// Key joins parts under the client namespace, e.g. "dexbot:lock:exec:BONK".
func (c *Client) Key(parts ...string) string {
	return c.ns + ":" + strings.Join(parts, ":")
}

// Ping checks the connection. It doubles as the health check.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw driver client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
