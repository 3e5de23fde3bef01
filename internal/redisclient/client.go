// Package redisclient wraps the shared Redis connection. It backs the
// replay-nonce cache when replicas must share one nonce set, the fast
// pre-check in front of the idempotency ledger, and best-effort generation
// leases.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// NonceCache adapts the client to the signature.NonceCache interface so the
// replay guard is shared across replicas. Expiry is handled by Redis itself;
// no sweep loop is needed.
type NonceCache struct {
	rdb *redis.Client
}

// NewNonceCache returns a Redis-backed replay-nonce cache.
func (c *Client) NewNonceCache() *NonceCache {
	return &NonceCache{rdb: c.rdb}
}

// Claim records the nonce with a TTL. SETNX makes claim-if-absent atomic.
func (nc *NonceCache) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := nc.rdb.SetNX(ctx, "nonce:"+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce claim failed: %w", err)
	}
	return ok, nil
}

// SeenEvent checks the fast-path marker for a processed payment event. The
// Postgres ledger stays authoritative; this only short-circuits hot retries.
func (c *Client) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "event:"+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventSeen sets the fast-path marker for a processed payment event.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, "event:"+eventID, "1", ttl).Err()
}

// AcquireLock takes a best-effort lease, used to avoid duplicate generation
// runs for one order. Correctness never depends on it; the status guard does
// the real mutual exclusion.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:"+lockKey, "1", ttl).Result()
}

// ReleaseLock releases a lease
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, "lock:"+lockKey).Err()
}
