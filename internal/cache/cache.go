// Package cache is a small read cache for hot listing endpoints. It
// talks to Redis when REDIS_URL is set and falls back to an in-process
// map otherwise, so development and tests need no external service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"unideploy/internal/logging"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// ProjectListTTL bounds staleness of the /projects listing.
const ProjectListTTL = 30 * time.Second

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is the Redis-or-memory read cache.
type Cache struct {
	redis *redis.Client

	mu  sync.RWMutex
	mem map[string]memEntry
}

// New connects to Redis when redisURL is non-empty; a failed connection
// logs a warning and degrades to memory-only.
func New(redisURL string) *Cache {
	c := &Cache{mem: make(map[string]memEntry)}
	if redisURL == "" {
		return c
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logging.S().Warnw("invalid REDIS_URL, using in-memory cache", "error", err)
		return c
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.S().Warnw("redis unreachable, using in-memory cache", "error", err)
		client.Close()
		return c
	}
	c.redis = client
	logging.S().Info("redis cache connected")
	return c
}

// GetJSON loads and unmarshals a cached value.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(data, dest)
		}
		if !errors.Is(err, redis.Nil) {
			logging.S().Debugw("redis get failed", "key", key, "error", err)
		}
	}

	c.mu.RLock()
	entry, ok := c.mem[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return ErrMiss
	}
	return json.Unmarshal(entry.value, dest)
}

// SetJSON stores a value with a TTL. Errors are swallowed; the cache is
// strictly an optimization.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data, ttl).Err(); err == nil {
			return
		}
	}
	c.mu.Lock()
	c.mem[key] = memEntry{value: data, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops a key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.redis != nil {
		c.redis.Del(ctx, key)
	}
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
}

// Close releases the Redis connection if one exists.
func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// ProjectListKey is the cache key for an owner's project listing.
func ProjectListKey(ownerID uint) string {
	return fmt.Sprintf("projects:owner:%d", ownerID)
}
