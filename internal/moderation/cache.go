package moderation

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores verdicts for previously classified text. Implementations must
// never return the unavailable sentinel from Lookup.
type Cache interface {
	Lookup(ctx context.Context, text string) (Verdict, bool)
	Store(ctx context.Context, text string, v Verdict)
}

// RedisCache keeps verdicts in Redis keyed by a hash of the message text.
// Cache errors degrade to a live classifier call rather than failing the
// message.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisCache connects to Redis and verifies connectivity.
func NewRedisCache(ctx context.Context, addr string, db int, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{rdb: rdb, ttl: ttl, log: logger}, nil
}

// Lookup returns the cached verdict for text, if any.
func (c *RedisCache) Lookup(ctx context.Context, text string) (Verdict, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(text)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("moderation.cache.get", "err", err)
		}
		return Verdict{}, false
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, false
	}
	// A verdict with either field missing is corrupt or the failure
	// sentinel; both count as a miss.
	if v.Category == nil || v.Score == nil {
		return Verdict{}, false
	}
	return v, true
}

// Store caches a successful verdict. The unavailable sentinel is never cached
// so a recovered classifier gets asked again.
func (c *RedisCache) Store(ctx context.Context, text string, v Verdict) {
	if v.Failed() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(text), raw, c.ttl).Err(); err != nil {
		c.log.Warn("moderation.cache.set", "err", err)
	}
}

// Close shuts down the Redis connection.
func (c *RedisCache) Close() error { return c.rdb.Close() }

func cacheKey(text string) string {
	sum := sha1.Sum([]byte(text))
	return "verdict:" + hex.EncodeToString(sum[:])
}
