package cache

import (
	"context"
	"time"
)

// GetOrLoad 先读缓存，未命中时调用 loader 并回写。
// 缓存不可用时直接回源，回写失败只记录日志。
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache unavailable, loading from source")
	}
	if hit {
		return cached, nil
	}

	value, err := loader(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write-back failed")
	}
	return value, nil
}
