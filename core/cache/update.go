package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/errors"
)

// Update 在 WATCH 下读取条目、交给 fn 修改并写回，键被并发修改时整体重试。
// 条目不存在或无法解析时 fn 收到零值。ttl<=0 时使用默认 TTL。
func Update[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(cur T) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return zero, errors.ErrInvalidInput.WithReason("empty_key")
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	full := keyspace.CacheKey(key)
	for {
		var next T
		err := c.runner.Exec(ctx, "cache.update", func(ctx context.Context) error {
			return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
				var cur T
				raw, err := tx.Get(ctx, full).Bytes()
				switch {
				case errors.Is(err, redis.Nil):
				case err != nil:
					return err
				default:
					if err := json.Unmarshal(raw, &cur); err != nil {
						c.logger.Warn().Err(err).Str("key", key).Msg("overwriting corrupt cache entry")
						cur = zero
					}
				}

				if next, err = fn(cur); err != nil {
					return err
				}
				payload, err := json.Marshal(next)
				if err != nil {
					return errors.ErrInvalidInput.WithReason("unserializable").WithCause(err)
				}
				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					p.Set(ctx, full, payload, ttl)
					return nil
				})
				return err
			}, full)
		})
		if !errors.Is(err, redis.TxFailedErr) {
			if err != nil {
				return zero, err
			}
			return next, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
}
