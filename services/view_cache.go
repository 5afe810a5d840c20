package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultViewCacheTTL = 30 * time.Second
	invalidateTimeout   = 5 * time.Second
	scanBatch           = 1000
)

// ViewCache holds rendered read views. Misses and backend failures look the
// same to callers: the view is rebuilt from storage.
//
// Every prefix carries a generation that InvalidatePrefix advances. Readers
// fold the generation into their keys, so a view built from rows read before
// an invalidation is stored under a key nobody asks for again.
type ViewCache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, v any)
	// Generation reports false when the generation could not be read; the
	// caller must then neither read nor fill the cache.
	Generation(ctx context.Context, prefix string) (int64, bool)
	InvalidatePrefix(ctx context.Context, prefix string)
}

func gymViewPrefix(gymID string) string {
	return fmt.Sprintf("attendance:gym:%s:", gymID)
}

func gymDayKey(gymID string, gen int64, day string) string {
	return fmt.Sprintf("%sgen:%d:day:%s", gymViewPrefix(gymID), gen, day)
}

// generationKey lives outside prefix so a SCAN of prefix* never removes it.
func generationKey(prefix string) string {
	return "viewgen:" + prefix
}

// InvalidateGymViews drops every cached view of gymID. Writers call it after
// their change is committed.
func InvalidateGymViews(ctx context.Context, cache ViewCache, gymID string) {
	if gymID == "" {
		return
	}
	cache.InvalidatePrefix(ctx, gymViewPrefix(gymID))
}

type RedisViewCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisViewCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisViewCache {
	if ttl <= 0 {
		ttl = defaultViewCacheTTL
	}
	return &RedisViewCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *RedisViewCache) Get(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("view cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		c.logger.Warn("view cache entry unreadable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *RedisViewCache) Set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.logger.Warn("view cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisViewCache) Generation(ctx context.Context, prefix string) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	gen, err := c.rdb.Get(ctx, generationKey(prefix)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		c.logger.Debug("view cache generation unavailable", zap.String("prefix", prefix), zap.Error(err))
		return 0, false
	}
	return gen, true
}

// InvalidatePrefix advances the generation of prefix and then deletes every
// key under it. The write it follows is already committed, so the work is
// detached from the caller's cancellation and bounded by its own timeout.
func (c *RedisViewCache) InvalidatePrefix(ctx context.Context, prefix string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := c.rdb.Incr(ctx, generationKey(prefix)).Err(); err != nil {
		c.logger.Warn("view cache generation bump failed", zap.String("prefix", prefix), zap.Error(err))
	}

	scan := func(ctx context.Context, cursor uint64) ([]string, uint64, error) {
		return c.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
	}
	del := func(ctx context.Context, keys []string) error {
		return c.rdb.Del(ctx, keys...).Err()
	}
	if err := sweep(ctx, scan, del); err != nil {
		c.logger.Warn("view cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

type scanFunc func(ctx context.Context, cursor uint64) ([]string, uint64, error)

// sweep follows the SCAN cursor until it returns to zero, passing each
// non-empty page to del.
func sweep(ctx context.Context, scan scanFunc, del func(ctx context.Context, keys []string) error) error {
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys, next, err := scan(ctx, cursor)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := del(ctx, keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// NoopViewCache is used when REDIS_ADDR is unset.
type NoopViewCache struct{}

func (NoopViewCache) Get(context.Context, string, any) bool {
	return false
}

func (NoopViewCache) Set(context.Context, string, any) {}

func (NoopViewCache) Generation(context.Context, string) (int64, bool) {
	return 0, false
}

func (NoopViewCache) InvalidatePrefix(context.Context, string) {}
