// Package cache memoizes replication batch summaries in Redis, keyed
// by model name and replication configuration values, so a host
// re-requesting an identical batch within the TTL window skips
// re-simulating it. The model document's contents are not part of the
// key: a changed model under the same name is served the cached
// summary until the entry expires. The teacher's go.mod pulls in go-redis/redis/v8
// without exercising it in any file this corpus retrieved; this
// package wires it in using the library's own canonical client shape.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache wraps a Redis client for replication-batch memoization.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Cache connected to addr (host:port).
func New(addr string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetBatchSummary looks up a memoized batch summary by key. The bool
// return is false on a cache miss (key absent or connection error);
// callers fall back to running the replication batch.
func (c *Cache) GetBatchSummary(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

// SetBatchSummary stores a batch summary under key with the cache's TTL.
func (c *Cache) SetBatchSummary(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Key builds a deterministic cache key from a model name, replication
// count, base seed, run length and warmup. Callers append any further
// configuration that changes the summary, such as the confidence level.
func Key(modelName string, n int, baseSeed int64, runLength, warmup float64) string {
	return "desengine:replication:" + modelName + ":" +
		strconv.Itoa(n) + ":" + strconv.FormatInt(baseSeed, 10) + ":" +
		strconv.FormatFloat(runLength, 'f', -1, 64) + ":" + strconv.FormatFloat(warmup, 'f', -1, 64)
}
