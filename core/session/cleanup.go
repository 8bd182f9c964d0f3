package session

import (
	"context"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
)

const scanCount = 100

// CleanupExpired 扫描全部会话键，删除 now-last_refresh 超过 Lifetime 或无法解析的会话。
// 使用 SCAN 游标增量遍历，不阻塞服务端。
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	err := s.scan(ctx, func(ids []string) error {
		raws, err := resilience.Do(ctx, s.runner, "session.cleanup_get", func(ctx context.Context) ([]any, error) {
			keys := make([]string, len(ids))
			for i, id := range ids {
				keys[i] = keyspace.SessionKey(id)
			}
			return s.rdb.MGet(ctx, keys...).Result()
		})
		if err != nil {
			return err
		}

		for i, raw := range raws {
			str, ok := raw.(string)
			if !ok {
				continue // 已被并发删除或过期
			}
			sess, err := decode([]byte(str))
			if err != nil {
				sess = nil
			} else if !s.expired(sess) {
				continue
			}
			if err := s.remove(ctx, ids[i], sess); err != nil {
				return err
			}
			removed++
		}
		return nil
	})

	s.metrics.Swept("sessions", removed)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("expired sessions cleaned up")
	}
	return removed, err
}

// Count 当前存储中的会话数（含尚未被清理的过期会话）
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(ids []string) error {
		n += len(ids)
		return nil
	})
	return n, err
}

// scan 按批回调会话 id
func (s *Store) scan(ctx context.Context, fn func(ids []string) error) error {
	var cursor uint64
	for {
		type page struct {
			keys []string
			next uint64
		}
		pg, err := resilience.Do(ctx, s.runner, "session.scan", func(ctx context.Context) (page, error) {
			keys, next, err := s.rdb.Scan(ctx, cursor, keyspace.Session+"*", scanCount).Result()
			return page{keys, next}, err
		})
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(pg.keys))
		for _, key := range pg.keys {
			if id, ok := keyspace.SessionIDFromKey(key); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			if err := fn(ids); err != nil {
				return err
			}
		}

		cursor = pg.next
		if cursor == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
