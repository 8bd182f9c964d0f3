package manager

import (
	"time"

	"github.com/kochabx/vidchat/core/audit"
	"github.com/kochabx/vidchat/core/blob"
	"github.com/kochabx/vidchat/core/cache"
	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/rate"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/session"
	redisstore "github.com/kochabx/vidchat/store/redis"
)

// Config 组件总配置
type Config struct {
	Redis       redisstore.Config `mapstructure:"redis"`
	Resilience  resilience.Config `mapstructure:"resilience"`
	Session     session.Config    `mapstructure:"session"`
	Cache       cache.Config      `mapstructure:"cache"`
	Rate        rate.Config       `mapstructure:"rate"`
	Queue       queue.Config      `mapstructure:"queue"`
	Blob        blob.Config       `mapstructure:"blob"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Health      HealthConfig      `mapstructure:"health"`
	Audit       audit.Config      `mapstructure:"audit"`
}

// MaintenanceConfig 后台清理
type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval" default:"5m" validate:"gt=0"`
	// Schedule cron 表达式，为空时使用 "@every <Interval>"
	Schedule string `mapstructure:"schedule"`
	Disabled bool   `mapstructure:"disabled"`
	// Timeout 单次清理的上限
	Timeout time.Duration `mapstructure:"timeout" default:"2m"`
}

func (c MaintenanceConfig) spec() string {
	if c.Schedule != "" {
		return c.Schedule
	}
	return "@every " + c.Interval.String()
}

// HealthConfig 健康检查阈值
type HealthConfig struct {
	// SlowLatency PING 超过该值判为 degraded
	SlowLatency time.Duration `mapstructure:"slow_latency" default:"250ms"`
	Timeout     time.Duration `mapstructure:"timeout" default:"2s"`
}
