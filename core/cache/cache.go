// Package cache 提供带 TTL 的 JSON 缓存：读写、按模式失效、回源加载与孤儿键清理。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
)

const scanCount = 100

// 应用层缓存键
func ChatHistoryKey(userID string) string  { return "chat_history:" + userID }
func VideoHistoryKey(userID string) string { return "video_history:" + userID }

// Config 缓存配置
type Config struct {
	// TTL 未显式指定时的过期时间
	TTL time.Duration `mapstructure:"ttl" default:"5m" validate:"gt=0"`
}

// Cache 缓存层
type Cache struct {
	rdb     redis.UniversalClient
	runner  *resilience.Runner
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
}

type Option func(*Cache)

func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New 创建缓存层
func New(rdb redis.UniversalClient, runner *resilience.Runner, cfg Config, opts ...Option) (*Cache, error) {
	if rdb == nil || runner == nil {
		return nil, errors.Internal("cache: redis client and runner are required")
	}
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	c := &Cache{rdb: rdb, runner: runner, cfg: cfg, logger: log.G}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component("cache")
	return c, nil
}

// Set 以 JSON 写入缓存，ttl<=0 时使用默认 TTL
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return errors.ErrInvalidInput.WithReason("empty_key")
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.ErrInvalidInput.WithReason("unserializable").WithCause(err)
	}
	return c.runner.Exec(ctx, "cache.set", func(ctx context.Context) error {
		return c.rdb.Set(ctx, keyspace.CacheKey(key), payload, ttl).Err()
	})
}

// Get 读取缓存到 dest，未命中返回 false。无法解析的条目视为未命中并被删除。
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := resilience.Do(ctx, c.runner, "cache.get", func(ctx context.Context) ([]byte, error) {
		return c.rdb.Get(ctx, keyspace.CacheKey(key)).Bytes()
	})
	switch {
	case errors.Is(err, redis.Nil):
		c.metrics.Cache("miss")
		return false, nil
	case err != nil:
		c.metrics.Cache("error")
		return false, err
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("dropping corrupt cache entry")
		c.metrics.Cache("corrupt")
		if err := c.Delete(ctx, key); err != nil {
			c.logger.Error().Err(err).Str("key", key).Msg("failed to delete corrupt cache entry")
		}
		return false, nil
	}
	c.metrics.Cache("hit")
	return true, nil
}

// Delete 删除指定缓存键
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyspace.CacheKey(k)
	}
	return c.runner.Exec(ctx, "cache.delete", func(ctx context.Context) error {
		return c.rdb.Del(ctx, full...).Err()
	})
}

// Invalidate 删除缓存命名空间内匹配 pattern 的键（glob 语法，如 "chat_history:*"），
// 使用 SCAN 游标分批进行。返回删除的键数。
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, errors.ErrInvalidInput.WithReason("empty_pattern")
	}
	deleted := 0
	err := c.scan(ctx, keyspace.CacheKey(pattern), func(keys []string) error {
		n, err := resilience.Do(ctx, c.runner, "cache.invalidate", func(ctx context.Context) (int64, error) {
			return c.rdb.Del(ctx, keys...).Result()
		})
		deleted += int(n)
		return err
	})
	if err != nil {
		return deleted, err
	}
	c.logger.Debug().Str("pattern", pattern).Int("deleted", deleted).Msg("cache invalidated")
	return deleted, nil
}

// CleanupOrphans 删除没有设置过期时间的缓存键
func (c *Cache) CleanupOrphans(ctx context.Context) (int, error) {
	removed := 0
	err := c.scan(ctx, keyspace.Cache+"*", func(keys []string) error {
		ttls, err := resilience.Do(ctx, c.runner, "cache.ttl", func(ctx context.Context) ([]time.Duration, error) {
			cmds, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
				for _, key := range keys {
					p.TTL(ctx, key)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			out := make([]time.Duration, len(cmds))
			for i, cmd := range cmds {
				out[i] = cmd.(*redis.DurationCmd).Val()
			}
			return out, nil
		})
		if err != nil {
			return err
		}

		var orphans []string
		for i, ttl := range ttls {
			if ttl == -1 {
				orphans = append(orphans, keys[i])
			}
		}
		if len(orphans) == 0 {
			return nil
		}
		n, err := resilience.Do(ctx, c.runner, "cache.cleanup", func(ctx context.Context) (int64, error) {
			return c.rdb.Del(ctx, orphans...).Result()
		})
		removed += int(n)
		return err
	})

	c.metrics.Swept("cache", removed)
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("orphan cache entries cleaned up")
	}
	return removed, err
}

func (c *Cache) scan(ctx context.Context, match string, fn func(keys []string) error) error {
	type page struct {
		keys []string
		next uint64
	}
	var cursor uint64
	for {
		pg, err := resilience.Do(ctx, c.runner, "cache.scan", func(ctx context.Context) (page, error) {
			keys, next, err := c.rdb.Scan(ctx, cursor, match, scanCount).Result()
			return page{keys, next}, err
		})
		if err != nil {
			return fmt.Errorf("scan %s: %w", match, err)
		}
		if len(pg.keys) > 0 {
			if err := fn(pg.keys); err != nil {
				return err
			}
		}
		if cursor = pg.next; cursor == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
