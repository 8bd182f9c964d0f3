// Package session 实现基于 Redis 的会话存储：创建、校验、刷新、吊销，
// 并附带设备指纹与 IP 变更安全策略。
package session

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

// EventSink 安全事件的附加落地（如审计库），写入失败只记录日志
type EventSink interface {
	Write(ctx context.Context, event Event) error
}

// Store 会话存储
type Store struct {
	rdb     redis.UniversalClient
	runner  *resilience.Runner
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sinks   []EventSink
}

// Option 存储选项
type Option func(*Store)

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEventSink 追加安全事件落地
func WithEventSink(sink EventSink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// New 创建会话存储
func New(rdb redis.UniversalClient, runner *resilience.Runner, cfg Config, opts ...Option) (*Store, error) {
	if rdb == nil || runner == nil {
		return nil, errors.Internal("session: redis client and runner are required")
	}
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	s := &Store{
		rdb:    rdb,
		runner: runner,
		cfg:    cfg,
		logger: log.G,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("session")
	return s, nil
}

// Config 返回生效的配置
func (s *Store) Config() Config {
	return s.cfg
}

// Create 写入会话数据，ttl<=0 时使用 Lifetime
func (s *Store) Create(ctx context.Context, id string, sess *Session, ttl time.Duration) error {
	if id == "" || sess == nil {
		return errors.ErrInvalidInput.WithReason("empty_session")
	}
	if ttl <= 0 {
		ttl = s.cfg.Lifetime
	}
	s.stamp(sess)

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.runner.Exec(ctx, "session.create", func(ctx context.Context) error {
		return s.rdb.Set(ctx, keyspace.SessionKey(id), payload, ttl).Err()
	})
}

// Validate 会话存在且 now-last_refresh <= Lifetime 时有效；
// 过期或无法解析的会话会被顺带删除。
func (s *Store) Validate(ctx context.Context, id string) (bool, *Session, error) {
	sess, err := s.load(ctx, id)
	switch {
	case errors.Is(err, errors.ErrCorrupt):
		s.logger.Warn().Err(err).Msg("dropping undecodable session")
		_ = s.remove(ctx, id, nil)
		return false, nil, nil
	case err != nil:
		return false, nil, err
	case sess == nil:
		return false, nil, nil
	}

	if s.expired(sess) {
		if err := s.remove(ctx, id, sess); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete stale session")
		}
		return false, nil, nil
	}
	return true, sess, nil
}

// Refresh 仅在接近过期（年龄超过 Lifetime-RefreshThreshold）时重写 last_refresh 并重置 TTL，
// 其余情况为成功的空操作。会话无效时返回 false。
func (s *Store) Refresh(ctx context.Context, id string) (bool, error) {
	valid, sess, err := s.Validate(ctx, id)
	if err != nil || !valid {
		return false, err
	}
	if s.now().Sub(sess.LastRefresh) <= s.cfg.refreshAfter() {
		return true, nil
	}

	err = s.update(ctx, id, true, func(cur *Session, _ redis.Pipeliner) error {
		cur.LastRefresh = s.now()
		cur.RefreshCount++
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

// Keepalive 记录最近活跃时间，不延长 TTL
func (s *Store) Keepalive(ctx context.Context, id string) (bool, error) {
	valid, _, err := s.Validate(ctx, id)
	if err != nil || !valid {
		return false, err
	}
	err = s.update(ctx, id, false, func(cur *Session, _ redis.Pipeliner) error {
		cur.LastKeepalive = s.now()
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

// Delete 删除会话及其指纹与 IP 索引
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil && !errors.Is(err, errors.ErrCorrupt) {
		return err
	}
	return s.remove(ctx, id, sess)
}

// Get 读取会话原始数据，不做有效性判断
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.ErrInvalidSession.WithReason("not_found")
	}
	return sess, nil
}

func (s *Store) stamp(sess *Session) {
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastRefresh.IsZero() {
		sess.LastRefresh = now
	}
}

func (s *Store) expired(sess *Session) bool {
	return s.now().Sub(sess.LastRefresh) > s.cfg.Lifetime
}

// load 不存在时返回 (nil, nil)
func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	raw, err := resilience.Do(ctx, s.runner, "session.get", func(ctx context.Context) ([]byte, error) {
		return s.rdb.Get(ctx, keyspace.SessionKey(id)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decode(raw)
}

func decode(raw []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.ErrCorrupt.WithReason("session").WithCause(err)
	}
	return &sess, nil
}

// remove 删除会话键、指纹键，并从 IP 集合中移除
func (s *Store) remove(ctx context.Context, id string, sess *Session) error {
	return s.runner.Exec(ctx, "session.delete", func(ctx context.Context) error {
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, keyspace.SessionKey(id), keyspace.FingerprintKey(id))
			if sess != nil && sess.IP != "" {
				p.SRem(ctx, keyspace.IPSessionsKey(sess.IP), id)
			}
			return nil
		})
		return err
	})
}

// update 在 WATCH 下读取、修改并写回会话，冲突时整体重试。
// resetTTL 为 true 时把会话、指纹、IP 索引的 TTL 重置为 Lifetime，否则保留原 TTL。
// 会话不存在时返回 redis.Nil。
func (s *Store) update(ctx context.Context, id string, resetTTL bool, fn func(cur *Session, p redis.Pipeliner) error) error {
	key := keyspace.SessionKey(id)
	for {
		err := s.runner.Exec(ctx, "session.update", func(ctx context.Context) error {
			return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
				raw, err := tx.Get(ctx, key).Bytes()
				if err != nil {
					return err
				}
				cur, err := decode(raw)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					if err := fn(cur, p); err != nil {
						return err
					}
					payload, err := json.Marshal(cur)
					if err != nil {
						return err
					}
					if !resetTTL {
						p.Set(ctx, key, payload, redis.KeepTTL)
						return nil
					}
					p.Set(ctx, key, payload, s.cfg.Lifetime)
					p.Expire(ctx, keyspace.FingerprintKey(id), s.cfg.Lifetime)
					if cur.IP != "" {
						p.Expire(ctx, keyspace.IPSessionsKey(cur.IP), s.cfg.Lifetime)
					}
					return nil
				})
				return err
			}, key)
		})
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
