package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/validator"
	"github.com/kochabx/vidchat/errors"
)

// Fingerprint 使用配置的密钥计算设备指纹
func (s *Store) Fingerprint(userAgent, ip string) string {
	return Fingerprint(s.cfg.FingerprintSecret, userAgent, ip)
}

// CreateSecure 创建绑定设备指纹与 IP 的会话。
// IP 格式非法返回 ErrInvalidInput；该 IP 下活跃会话达到上限时返回 false 并记录 RATE_LIMIT_EXCEEDED。
// 会话数据、IP 会话集合与指纹在同一事务内写入，共用 Lifetime。
func (s *Store) CreateSecure(ctx context.Context, id string, sess *Session, userAgent, ip string) (bool, error) {
	if err := validator.Validate.Var(ip, "required,ip"); err != nil {
		return false, errors.ErrInvalidInput.WithReason("invalid_ip").WithCause(err)
	}
	if id == "" || sess == nil {
		return false, errors.ErrInvalidInput.WithReason("empty_session")
	}

	s.stamp(sess)
	sess.Fingerprint = s.Fingerprint(userAgent, ip)
	sess.IP = ip
	sess.OriginIP = ip

	payload, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("marshal session: %w", err)
	}

	active, created, err := s.reserveIPSlot(ctx, id, ip, payload, sess.Fingerprint)
	if err != nil {
		return false, err
	}
	if !created {
		if err := s.RecordSecurityEvent(ctx, EventRateLimitExceeded, ip, map[string]any{
			"active_sessions": active,
			"limit":           s.cfg.MaxPerIP,
		}); err != nil {
			s.logger.Error().Err(err).Msg("failed to record security event")
		}
		return false, nil
	}
	return true, nil
}

// ValidateSecurity 在 Validate 的基础上检查吊销名单、设备指纹与 IP 变更策略。
// 指纹不符或 IP 变更次数超限会把会话标记为不可信并记录安全事件。
func (s *Store) ValidateSecurity(ctx context.Context, id, fingerprint, ip string) (bool, error) {
	valid, sess, err := s.Validate(ctx, id)
	if err != nil || !valid {
		return false, err
	}
	return s.checkSecurity(ctx, id, sess, fingerprint, ip)
}

// VerifyRequest 供 HTTP 层使用：指纹由 user-agent 与会话创建时的 IP 推导，
// 因此合法的 IP 迁移不会被误判为指纹不符。
func (s *Store) VerifyRequest(ctx context.Context, id, userAgent, ip string) (bool, *Session, error) {
	valid, sess, err := s.Validate(ctx, id)
	if err != nil || !valid {
		return false, nil, err
	}
	origin := sess.OriginIP
	if origin == "" {
		origin = sess.IP
	}
	ok, err := s.checkSecurity(ctx, id, sess, s.Fingerprint(userAgent, origin), ip)
	if err != nil || !ok {
		return false, nil, err
	}
	return true, sess, nil
}

func (s *Store) checkSecurity(ctx context.Context, id string, sess *Session, fingerprint, ip string) (bool, error) {
	revoked, err := s.IsRevoked(ctx, id, sess.Subject)
	if err != nil {
		return false, err
	}
	if revoked {
		s.record(ctx, EventRevokedAccess, id, map[string]any{"ip": ip})
		return false, nil
	}

	if sess.Untrusted {
		s.record(ctx, EventUntrustedAccess, id, map[string]any{"ip": ip})
		return false, nil
	}

	stored, err := s.storedFingerprint(ctx, id, sess)
	if err != nil {
		return false, err
	}
	if stored != "" && !fingerprintEqual(stored, fingerprint) {
		if err := s.markUntrusted(ctx, id); err != nil {
			return false, err
		}
		s.record(ctx, EventInvalidFingerprint, id, map[string]any{"ip": ip})
		return false, nil
	}

	if ip == "" || ip == sess.IP {
		return true, nil
	}
	if err := validator.Validate.Var(ip, "ip"); err != nil {
		return false, errors.ErrInvalidInput.WithReason("invalid_ip").WithCause(err)
	}

	var (
		accepted bool
		changes  int
		oldIP    string
	)
	err = s.update(ctx, id, false, func(cur *Session, p redis.Pipeliner) error {
		oldIP, changes = cur.IP, len(cur.IPHistory)
		switch {
		case cur.IP == ip:
			accepted = true
		case len(cur.IPHistory) >= s.cfg.IPChangeLimit:
			accepted = false
			cur.Untrusted = true
		default:
			accepted = true
			cur.IPHistory = append(cur.IPHistory, IPChange{OldIP: cur.IP, NewIP: ip, At: s.now()})
			cur.IP = ip
			if oldIP != "" {
				p.SRem(ctx, keyspace.IPSessionsKey(oldIP), id)
			}
			p.SAdd(ctx, keyspace.IPSessionsKey(ip), id)
			p.Expire(ctx, keyspace.IPSessionsKey(ip), s.cfg.Lifetime)
		}
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !accepted {
		s.record(ctx, EventIPMismatch, id, map[string]any{
			"old_ip":  oldIP,
			"new_ip":  ip,
			"changes": changes,
			"limit":   s.cfg.IPChangeLimit,
		})
		return false, nil
	}
	s.logger.Info().Str("old_ip", oldIP).Str("new_ip", ip).Int("changes", changes+1).Msg("session ip changed")
	return true, nil
}

func (s *Store) storedFingerprint(ctx context.Context, id string, sess *Session) (string, error) {
	fp, err := resilience.Do(ctx, s.runner, "session.fingerprint", func(ctx context.Context) (string, error) {
		return s.rdb.Get(ctx, keyspace.FingerprintKey(id)).Result()
	})
	if errors.Is(err, redis.Nil) {
		return sess.Fingerprint, nil
	}
	return fp, err
}

func (s *Store) markUntrusted(ctx context.Context, id string) error {
	err := s.update(ctx, id, false, func(cur *Session, _ redis.Pipeliner) error {
		cur.Untrusted = true
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// reserveIPSlot 在 WATCH IP 会话集合的前提下统计活跃会话并写入新会话，
// 集合被并发修改时整体重试。名额已满时返回 (active, false, nil)。
func (s *Store) reserveIPSlot(ctx context.Context, id, ip string, payload []byte, fingerprint string) (int, bool, error) {
	setKey := keyspace.IPSessionsKey(ip)
	ttl := s.cfg.Lifetime
	for {
		var (
			active  int
			created bool
		)
		err := s.runner.Exec(ctx, "session.create_secure", func(ctx context.Context) error {
			created = false
			return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
				var stale []any
				var err error
				active, stale, err = activeMembers(ctx, tx, setKey)
				if err != nil {
					return err
				}
				if active >= s.cfg.MaxPerIP {
					if len(stale) > 0 {
						_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
							p.SRem(ctx, setKey, stale...)
							return nil
						})
					}
					return err
				}
				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					if len(stale) > 0 {
						p.SRem(ctx, setKey, stale...)
					}
					p.Set(ctx, keyspace.SessionKey(id), payload, ttl)
					p.SAdd(ctx, setKey, id)
					p.Expire(ctx, setKey, ttl)
					p.Set(ctx, keyspace.FingerprintKey(id), fingerprint, ttl)
					return nil
				})
				if err == nil {
					created = true
				}
				return err
			}, setKey)
		})
		if !errors.Is(err, redis.TxFailedErr) {
			return active, created, err
		}
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
	}
}

// activeMembers 统计集合中会话仍然存在的成员，返回已过期的成员供调用方清理
func activeMembers(ctx context.Context, tx *redis.Tx, setKey string) (int, []any, error) {
	members, err := tx.SMembers(ctx, setKey).Result()
	if err != nil || len(members) == 0 {
		return 0, nil, err
	}
	cmds, err := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range members {
			p.Exists(ctx, keyspace.SessionKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	var stale []any
	active := 0
	for i, cmd := range cmds {
		if cmd.(*redis.IntCmd).Val() > 0 {
			active++
		} else {
			stale = append(stale, members[i])
		}
	}
	return active, stale, nil
}
