package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/log"
)

// Options 附加路由
type Options struct {
	Metrics MetricsOption
	Health  HealthOption
}

// MetricsOption Prometheus 暴露端点
type MetricsOption struct {
	Enabled  bool
	Path     string `default:"/metrics"`
	Gatherer prometheus.Gatherer
}

func (m *MetricsOption) init() error {
	if m.Gatherer == nil {
		m.Gatherer = prometheus.DefaultGatherer
	}
	return tag.ApplyDefaults(m)
}

// HealthReport 健康检查结果，Healthy 为 false 时返回 503
type HealthReport interface {
	Healthy() bool
}

// HealthOption 健康检查端点，Check 为空时固定返回 ok
type HealthOption struct {
	Enabled bool
	Path    string        `default:"/health"`
	Timeout time.Duration `default:"3s"`
	Check   func(ctx context.Context) HealthReport
}

func (h *HealthOption) init() error {
	return tag.ApplyDefaults(h)
}

// Config HTTP 服务配置
type Config struct {
	Addr              string        `mapstructure:"addr" default:":8080"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" default:"10s"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" default:"15s"`
	// MaxBodyBytes 请求体上限，需不小于文件上限
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" default:"67108864"`
	// TrustedProxies 为空时不信任任何代理头
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	Mode           string   `mapstructure:"mode" default:"release" validate:"oneof=debug release test"`
}

type Option func(*Server)

func WithMeta(meta Meta) Option {
	return func(s *Server) {
		s.meta = meta
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.server.ReadHeaderTimeout = d
	}
}

func WithMetricsOptions(metrics MetricsOption) Option {
	return func(s *Server) {
		if err := metrics.init(); err != nil {
			s.logger.Error().Err(err).Send()
			return
		}
		s.options.Metrics = metrics
	}
}

func WithHealthOptions(health HealthOption) Option {
	return func(s *Server) {
		if err := health.init(); err != nil {
			s.logger.Error().Err(err).Send()
			return
		}
		s.options.Health = health
	}
}

func healthStatus(r HealthReport) int {
	if r == nil || r.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
