package blob

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
)

const scanCount = 100

// CleanupExpired 删除 now-timestamp 超过 TTL 的文件，随后清理没有元数据的孤儿分块。
// 返回删除的文件数。
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string

	err := s.scan(ctx, keyspace.BlobMetaPattern(), func(keys []string) error {
		hashes, err := resilience.Do(ctx, s.runner, "blob.cleanup_meta", func(ctx context.Context) ([]map[string]string, error) {
			cmds, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
				for _, key := range keys {
					p.HGetAll(ctx, key)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			out := make([]map[string]string, len(cmds))
			for i, cmd := range cmds {
				out[i] = cmd.(*redis.MapStringStringCmd).Val()
			}
			return out, nil
		})
		if err != nil {
			return err
		}

		for i, h := range hashes {
			id, ok := keyspace.BlobIDFromKey(keys[i])
			if !ok || len(h) == 0 {
				continue
			}
			meta, err := parseMetadata(h)
			if err != nil || now.Sub(meta.Timestamp) > s.cfg.TTL {
				expired = append(expired, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range expired {
		ok, err := s.Delete(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	s.metrics.Swept("blobs", removed)

	orphans, err := s.CleanupOrphanChunks(ctx)
	if removed > 0 || orphans > 0 {
		s.logger.Info().Int("files", removed).Int("orphan_chunks", orphans).Msg("expired files cleaned up")
	}
	return removed, err
}

// CleanupOrphanChunks 删除元数据已不存在、且写入时间超过 OrphanGrace 的分块
func (s *Store) CleanupOrphanChunks(ctx context.Context) (int, error) {
	removed := 0
	err := s.scan(ctx, keyspace.BlobChunkPattern(), func(keys []string) error {
		type probe struct {
			ttl  []*redis.DurationCmd
			meta map[string]*redis.IntCmd
		}
		pr, err := resilience.Do(ctx, s.runner, "blob.orphan_probe", func(ctx context.Context) (probe, error) {
			pr := probe{meta: map[string]*redis.IntCmd{}}
			_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
				for _, key := range keys {
					pr.ttl = append(pr.ttl, p.PTTL(ctx, key))
					if id, ok := keyspace.BlobIDFromKey(key); ok {
						if _, seen := pr.meta[id]; !seen {
							pr.meta[id] = p.Exists(ctx, keyspace.BlobMetaKey(id))
						}
					}
				}
				return nil
			})
			return pr, err
		})
		if err != nil {
			return err
		}

		var orphans []string
		for i, key := range keys {
			id, ok := keyspace.BlobIDFromKey(key)
			if !ok || pr.meta[id].Val() > 0 {
				continue
			}
			if s.orphanAged(pr.ttl[i].Val()) {
				orphans = append(orphans, key)
			}
		}
		if len(orphans) == 0 {
			return nil
		}
		n, err := resilience.Do(ctx, s.runner, "blob.orphan_delete", func(ctx context.Context) (int64, error) {
			return s.rdb.Del(ctx, orphans...).Result()
		})
		removed += int(n)
		return err
	})
	s.metrics.Swept("blob_chunks", removed)
	return removed, err
}

// orphanAged 由剩余 TTL 推算分块的写入时长；没有 TTL 的分块直接视为孤儿
func (s *Store) orphanAged(ttl time.Duration) bool {
	if ttl == -1 {
		return true
	}
	if ttl < 0 {
		return false
	}
	return s.cfg.TTL-ttl > s.cfg.OrphanGrace
}

func (s *Store) scan(ctx context.Context, match string, fn func(keys []string) error) error {
	type page struct {
		keys []string
		next uint64
	}
	var cursor uint64
	for {
		pg, err := resilience.Do(ctx, s.runner, "blob.scan", func(ctx context.Context) (page, error) {
			keys, next, err := s.rdb.Scan(ctx, cursor, match, scanCount).Result()
			return page{keys, next}, err
		})
		if err != nil {
			return err
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
