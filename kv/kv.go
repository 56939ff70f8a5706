// Package kv is the Redis-backed persistence layer: application records,
// deployment records, vars, and the ticket-id counter all live in a
// handful of hashes plus one counter key, matching the original's
// txredisapi usage.
package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is the narrow persistence contract the rest of the daemon depends
// on. Redis (Client) and an in-memory fake (Memory, for tests) both
// satisfy it.
type Store interface {
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key, field string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// Client is a Store backed by a real Redis server.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to a Redis server at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewClientFromOptions wraps an already-configured redis.Client, for
// callers that need TLS, auth, or a specific DB index.
func NewClientFromOptions(opts *redis.Options) *Client {
	return &Client{rdb: redis.NewClient(opts)}
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: hget %s/%s: %w", key, field, err)
	}
	return v, true, nil
}

func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	if err := c.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("kv: hset %s/%s: %w", key, field, err)
	}
	return nil
}

func (c *Client) HDel(ctx context.Context, key, field string) error {
	if err := c.rdb.HDel(ctx, key, field).Err(); err != nil {
		return fmt.Errorf("kv: hdel %s/%s: %w", key, field, err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: hgetall %s: %w", key, err)
	}
	return m, nil
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: incr %s: %w", key, err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Well-known hash/counter keys, preserved from the original implementation.
const (
	AppsKey        = "mfcloud-apps"
	DeploymentsKey = "mfcloud-deployments"
	VarsKey        = "mfcloud-vars"
	TicketIDKey    = "mfcloud-ticket-id"
)
