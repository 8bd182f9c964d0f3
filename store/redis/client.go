package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/log"
)

// Client 进程级共享的 Redis 客户端
type Client struct {
	client redis.UniversalClient
	logger *log.Logger
}

// New 根据配置创建客户端并检查连通性，URL 缺失时立即失败
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.G
	}

	ropts, err := cfg.options()
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	c := &Client{client: redis.NewClient(ropts), logger: logger}

	ok := false
	defer func() {
		if !ok {
			_ = c.client.Close()
		}
	}()

	for _, hook := range o.hooks {
		c.client.AddHook(hook)
	}
	if !o.noSlowHook && cfg.SlowThreshold > 0 {
		c.client.AddHook(NewSlowLogHook(logger, cfg.SlowThreshold))
	}
	if cfg.Tracing {
		if err := redisotel.InstrumentTracing(c.client); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics {
		if err := redisotel.InstrumentMetrics(c.client); err != nil {
			return nil, err
		}
	}

	if !o.skipPing {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+cfg.ReadTimeout)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis: ping %s: %w", ropts.Addr, err)
		}
	}

	ok = true
	logger.Debug().Str("addr", ropts.Addr).Int("db", ropts.DB).Int("pool_size", ropts.PoolSize).Msg("redis client created")
	return c, nil
}

// Wrap 包装已有客户端，用于测试或外部托管的连接
func Wrap(client redis.UniversalClient, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.G
	}
	return &Client{client: client, logger: logger}
}

// UniversalClient 返回底层客户端
func (c *Client) UniversalClient() redis.UniversalClient {
	return c.client
}

// Ping 测试连接
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats 连接池统计
func (c *Client) Stats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Close 关闭客户端
func (c *Client) Close() error {
	err := c.client.Close()
	c.logger.Debug().Msg("redis client closed")
	return err
}
