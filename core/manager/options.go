package manager

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/audit"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
	redisstore "github.com/kochabx/vidchat/store/redis"
)

type options struct {
	logger  *log.Logger
	metrics *metrics.Metrics
	redis   *redisstore.Client
	events  audit.MessageWriter
	now     func() time.Time
}

// Option 管理器选项
type Option func(*options)

func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRedisClient 使用外部客户端，Close 时不会关闭它
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redis = redisstore.Wrap(client, o.logger)
		}
	}
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEventWriter 安全事件发布到 w，替代 audit.stream 配置的 Kafka 生产者
func WithEventWriter(w audit.MessageWriter) Option {
	return func(o *options) { o.events = w }
}
