package manager

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/session"
	redisstore "github.com/kochabx/vidchat/store/redis"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health 健康检查结果
type Health struct {
	Status    string           `json:"status"`
	Circuit   string           `json:"circuit_state"`
	LatencyMS float64          `json:"latency_ms"`
	Pool      *redis.PoolStats `json:"pool,omitempty"`
	Audit     *bool            `json:"audit,omitempty"`
	Error     string           `json:"error,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Healthy degraded 仍视为可服务
func (h Health) Healthy() bool {
	return h.Status != StatusUnhealthy
}

// HealthCheck 直接 PING（不经过熔断器），熔断打开或 PING 失败为 unhealthy，
// 半开或延迟超过阈值为 degraded。
func (m *Manager) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Health.Timeout)
	defer cancel()

	probe := redisstore.Probe(ctx, m.redis.UniversalClient())
	state := m.runner.Breaker().State()

	h := Health{
		Circuit:   state.String(),
		LatencyMS: float64(probe.Latency.Microseconds()) / 1000,
		Pool:      probe.Pool,
		Error:     probe.Error,
		CheckedAt: m.now(),
	}

	switch {
	case !probe.Healthy || state == resilience.StateOpen:
		h.Status = StatusUnhealthy
	case state == resilience.StateHalfOpen || probe.Latency > m.cfg.Health.SlowLatency:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}

	if m.auditDB != nil {
		ok := m.auditDB.Ping(ctx) == nil
		h.Audit = &ok
		if !ok && h.Status == StatusHealthy {
			h.Status = StatusDegraded
		}
	}

	if h.Status != StatusHealthy {
		m.logger.Warn().Str("status", h.Status).Str("circuit", h.Circuit).
			Float64("latency_ms", h.LatencyMS).Str("error", h.Error).Msg("health check")
	}
	return h
}

// Snapshot 运行指标汇总
type Snapshot struct {
	Pool    *redis.PoolStats        `json:"pool"`
	Breaker resilience.BreakerStats `json:"breaker"`
	Queue   *queue.Stats            `json:"queue,omitempty"`
}

// GetMetrics 汇总连接池、熔断器与队列统计；队列统计失败时仍返回前两项
func (m *Manager) GetMetrics(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Pool:    m.redis.Stats(),
		Breaker: m.runner.Breaker().Stats(),
	}
	stats, err := m.Queue.Status(ctx)
	if err != nil {
		return snap, err
	}
	snap.Queue = stats
	return snap, nil
}

// GetSecurityMetrics 安全事件统计与会话计数
func (m *Manager) GetSecurityMetrics(ctx context.Context) (session.SecurityMetrics, error) {
	return m.Sessions.SecurityMetrics(ctx)
}
