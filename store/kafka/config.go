package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kochabx/vidchat/core/tag"
)

// Config Kafka 生产者配置
type Config struct {
	// Brokers Broker 地址列表，如 ["localhost:9092"]
	Brokers []string `mapstructure:"brokers"`

	// SASL/PLAIN 认证，两者都非空时启用
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Balancer 分区策略：hash 按消息 key 固定分区，least_bytes 按负载
	Balancer string `mapstructure:"balancer" default:"hash" validate:"oneof=hash least_bytes"`

	AllowAutoTopicCreation bool `mapstructure:"allow_auto_topic_creation"`

	// Timeout 单次写入超时
	Timeout time.Duration `mapstructure:"timeout" default:"3s"`
	// BatchTimeout 未攒满一批时的最长等待
	BatchTimeout time.Duration `mapstructure:"batch_timeout" default:"10ms"`
	CloseTimeout time.Duration `mapstructure:"close_timeout" default:"5s"`
}

// ApplyDefaults 应用默认值
func (c *Config) ApplyDefaults() error {
	return tag.ApplyDefaults(c)
}

func (c *Config) balancer() kafka.Balancer {
	switch c.Balancer {
	case "least_bytes":
		return &kafka.LeastBytes{}
	default:
		return &kafka.Hash{}
	}
}
