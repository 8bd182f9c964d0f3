// Package rate 实现基于 Redis 的固定窗口限流。
package rate

import (
	"context"
	"time"
)

// Limiter 按 (resource, identifier) 限流
type Limiter interface {
	// Allow 存储故障时放行
	Allow(ctx context.Context, resource, identifier string) bool
	// Reserve 消耗一次额度并返回决策，存储故障时返回错误
	Reserve(ctx context.Context, resource, identifier string) (Decision, error)
}

// Decision 单次限流判定结果
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter 当前窗口剩余时长，被拒绝时作为重试提示
	RetryAfter time.Duration
}

// Rule 单个资源的额度
type Rule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Config 限流配置，Rules 中未设置的字段沿用全局值
type Config struct {
	Limit  int             `mapstructure:"limit" default:"100" validate:"gte=1"`
	Window time.Duration   `mapstructure:"window" default:"60s" validate:"gt=0"`
	Rules  map[string]Rule `mapstructure:"rules"`
}

func (c Config) rule(resource string) Rule {
	r := c.Rules[resource]
	if r.Limit <= 0 {
		r.Limit = c.Limit
	}
	if r.Window <= 0 {
		r.Window = c.Window
	}
	return r
}
