// Package cache provides the Redis access layer: cached auth contexts
// and token bucket rate limits.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client. Every key it writes starts with its namespace,
// so several deployments can share one Redis database.
type Cache struct {
	client    *redis.Client
	namespace string
}

type options struct {
	namespace    string
	poolSize     int
	minIdleConns int
	poolTimeout  time.Duration
	idleTimeout  time.Duration
}

// Option tunes a Cache built by New.
type Option func(*options)

// WithNamespace prefixes every key. An empty namespace writes bare keys.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithPoolSize sets the maximum number of open connections.
// Values below one keep the default.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

func defaultOptions() options {
	return options{
		poolSize:     10,
		minIdleConns: 2,
		poolTimeout:  4 * time.Second,
		idleTimeout:  5 * time.Minute,
	}
}

// New connects to redisURL and pings it once.
func New(ctx context.Context, redisURL string, opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	ro.PoolSize = o.poolSize
	ro.MinIdleConns = min(o.minIdleConns, o.poolSize)
	ro.PoolTimeout = o.poolTimeout
	ro.ConnMaxIdleTime = o.idleTimeout

	c := &Cache{client: redis.NewClient(ro), namespace: o.namespace}
	if err := c.Ping(ctx); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// key joins the namespace, a kind prefix and an id.
func (c *Cache) key(prefix, id string) string {
	return c.namespace + prefix + id
}

// Ping reports whether Redis answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying client for test cleanup.
func (c *Cache) Client() *redis.Client {
	return c.client
}
