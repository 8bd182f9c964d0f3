package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/errors"
)

// RecordSecurityEvent 保存带时间戳的安全事件（保留 EventRetention），
// 并累加标识符的可疑活动计数（SuspiciousWindow 内有效）。计数达到阈值时吊销该标识符。
func (s *Store) RecordSecurityEvent(ctx context.Context, eventType EventType, identifier string, details map[string]any) error {
	now := s.now()
	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Identifier: identifier,
		Details:    details,
		Timestamp:  now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.logger.Warn().
		Str("event", string(eventType)).
		Str("identifier", redact(identifier)).
		Interface("details", details).
		Msg("security event")
	s.metrics.SecurityEvent(string(eventType))

	retention := s.cfg.EventRetention
	cutoff := float64(now.Add(-retention).UnixMilli())
	err = s.runner.Exec(ctx, "session.security_event", func(ctx context.Context) error {
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZAdd(ctx, keyspace.SecurityEvents(), redis.Z{Score: float64(now.UnixMilli()), Member: payload})
			p.ZRemRangeByScore(ctx, keyspace.SecurityEvents(), "-inf", "("+strconv.FormatFloat(cutoff, 'f', 0, 64))
			p.Expire(ctx, keyspace.SecurityEvents(), retention)
			p.HIncrBy(ctx, keyspace.SecurityCounts(), string(eventType), 1)
			p.Expire(ctx, keyspace.SecurityCounts(), retention)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.logger.Error().Err(err).Str("event", string(eventType)).Msg("security event sink failed")
		}
	}

	if !eventType.suspicious() || identifier == "" {
		return nil
	}

	count, err := resilience.Do(ctx, s.runner, "session.suspicious", func(ctx context.Context) (int64, error) {
		key := keyspace.SuspiciousKey(identifier)
		var incr *redis.IntCmd
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			incr = p.Incr(ctx, key)
			p.ExpireNX(ctx, key, s.cfg.SuspiciousWindow)
			return nil
		})
		if err != nil {
			return 0, err
		}
		return incr.Val(), nil
	})
	if err != nil {
		return err
	}

	if count >= int64(s.cfg.SuspiciousThreshold) && !s.cfg.RevokeDisabled {
		return s.RevokeSessionsFor(ctx, identifier)
	}
	return nil
}

// record 记录事件，失败只写日志。安全拒绝的结果不依赖事件是否落地。
func (s *Store) record(ctx context.Context, eventType EventType, identifier string, details map[string]any) {
	if err := s.RecordSecurityEvent(ctx, eventType, identifier, details); err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("failed to record security event")
	}
}

// RevokeSessionsFor 把标识符（会话 id 或用户 id）加入吊销集合，并记录 FORCED_LOGOUT
func (s *Store) RevokeSessionsFor(ctx context.Context, identifier string) error {
	if identifier == "" {
		return errors.ErrInvalidInput.WithReason("empty_identifier")
	}
	err := s.runner.Exec(ctx, "session.revoke", func(ctx context.Context) error {
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SAdd(ctx, keyspace.RevokedSet(), identifier)
			p.Expire(ctx, keyspace.RevokedSet(), s.cfg.EventRetention)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	return s.RecordSecurityEvent(ctx, EventForcedLogout, identifier, map[string]any{"reason": "suspicious_activity"})
}

// IsRevoked 任一标识符在吊销集合中即为已吊销
func (s *Store) IsRevoked(ctx context.Context, identifiers ...string) (bool, error) {
	ids := make([]any, 0, len(identifiers))
	for _, id := range identifiers {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return false, nil
	}
	hits, err := resilience.Do(ctx, s.runner, "session.revoked", func(ctx context.Context) ([]bool, error) {
		return s.rdb.SMIsMember(ctx, keyspace.RevokedSet(), ids...).Result()
	})
	if err != nil {
		return false, err
	}
	for _, hit := range hits {
		if hit {
			return true, nil
		}
	}
	return false, nil
}

// SuspiciousCount 当前窗口内的可疑活动计数
func (s *Store) SuspiciousCount(ctx context.Context, identifier string) (int64, error) {
	n, err := resilience.Do(ctx, s.runner, "session.suspicious_get", func(ctx context.Context) (int64, error) {
		return s.rdb.Get(ctx, keyspace.SuspiciousKey(identifier)).Int64()
	})
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Events 最近的安全事件，按时间倒序
func (s *Store) Events(ctx context.Context, limit int64) ([]Event, error) {
	if limit <= 0 {
		limit = s.cfg.RecentEvents
	}
	raws, err := resilience.Do(ctx, s.runner, "session.events", func(ctx context.Context) ([]string, error) {
		return s.rdb.ZRevRange(ctx, keyspace.SecurityEvents(), 0, limit-1).Result()
	})
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// SecurityMetrics 事件类型汇总、最近事件、活跃与已吊销会话数
func (s *Store) SecurityMetrics(ctx context.Context) (SecurityMetrics, error) {
	out := SecurityMetrics{EventTotals: map[EventType]int64{}}

	counts, err := resilience.Do(ctx, s.runner, "session.event_counts", func(ctx context.Context) (map[string]string, error) {
		return s.rdb.HGetAll(ctx, keyspace.SecurityCounts()).Result()
	})
	if err != nil {
		return out, err
	}
	for k, v := range counts {
		n, _ := strconv.ParseInt(v, 10, 64)
		out.EventTotals[EventType(k)] = n
	}

	if out.RecentEvents, err = s.Events(ctx, 0); err != nil {
		return out, err
	}
	if out.ActiveSessions, err = s.Count(ctx); err != nil {
		return out, err
	}
	out.RevokedSessions, err = resilience.Do(ctx, s.runner, "session.revoked_count", func(ctx context.Context) (int64, error) {
		return s.rdb.SCard(ctx, keyspace.RevokedSet()).Result()
	})
	return out, err
}

// redact 日志中只保留标识符前 8 位
func redact(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "…"
}
