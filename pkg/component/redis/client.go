// Package redis wraps go-redis as a storage.Client.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-kb/pkg/component/storage"
	options "github.com/kart-io/sentinel-kb/pkg/options/redis"
)

// Client wraps goredis.Client; the raw client backs caches and locks.
type Client struct {
	client *goredis.Client
	opts   *options.Options
}

var _ storage.Client = (*Client)(nil)

// New creates a Redis client and verifies connectivity.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid redis options: %w", errors.Join(errs...))
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr(), err)
	}

	logger.Infow("Redis connected", "addr", opts.Addr(), "db", opts.Database)
	return &Client{client: client, opts: opts}, nil
}

// Name implements storage.Client.
func (c *Client) Name() string {
	return "redis"
}

// Ping implements storage.Client.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close implements storage.Client.
func (c *Client) Close() error {
	err := c.client.Close()
	if errors.Is(err, goredis.ErrClosed) {
		return nil
	}
	return err
}

// Raw returns the underlying go-redis client.
func (c *Client) Raw() *goredis.Client {
	return c.client
}

// PoolStats returns connection pool statistics.
func (c *Client) PoolStats() *goredis.PoolStats {
	return c.client.PoolStats()
}
