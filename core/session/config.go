package session

import (
	"time"
)

// Config 会话与安全策略配置
type Config struct {
	// Lifetime 会话有效期，也是 Redis TTL
	Lifetime time.Duration `mapstructure:"lifetime" default:"1h" validate:"gt=0"`
	// RefreshThreshold 距过期多久以内才真正刷新，0 表示 Lifetime/6
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`

	MaxPerIP            int           `mapstructure:"max_per_ip" default:"5" validate:"gte=1"`
	IPChangeLimit       int           `mapstructure:"ip_change_limit" default:"3" validate:"gte=0"`
	SuspiciousThreshold int           `mapstructure:"suspicious_threshold" default:"10" validate:"gte=1"`
	SuspiciousWindow    time.Duration `mapstructure:"suspicious_window" default:"1h"`
	EventRetention      time.Duration `mapstructure:"event_retention" default:"24h"`
	RecentEvents        int64         `mapstructure:"recent_events" default:"20"`

	// FingerprintSecret 指纹 HMAC 密钥
	FingerprintSecret string `mapstructure:"fingerprint_secret"`
	// RevokeDisabled 为 true 时可疑计数越过阈值也不自动吊销
	RevokeDisabled bool `mapstructure:"revoke_disabled"`
}

// refreshAfter 会话年龄超过该值才刷新
func (c Config) refreshAfter() time.Duration {
	threshold := c.RefreshThreshold
	if threshold <= 0 || threshold > c.Lifetime {
		threshold = c.Lifetime / 6
	}
	return c.Lifetime - threshold
}
