package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthStatus 一次探测的结果
type HealthStatus struct {
	Healthy   bool             `json:"healthy"`
	CheckedAt time.Time        `json:"checked_at"`
	Latency   time.Duration    `json:"latency"`
	Pool      *redis.PoolStats `json:"pool,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Probe 执行一次 PING 并采集连接池统计
func Probe(ctx context.Context, client redis.UniversalClient) HealthStatus {
	start := time.Now()
	err := client.Ping(ctx).Err()

	status := HealthStatus{
		Healthy:   err == nil,
		CheckedAt: start,
		Latency:   time.Since(start),
		Pool:      client.PoolStats(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// Probe 探测当前客户端
func (c *Client) Probe(ctx context.Context) HealthStatus {
	return Probe(ctx, c.client)
}
