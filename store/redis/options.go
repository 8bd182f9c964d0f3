package redis

import (
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/log"
)

// Option 客户端选项
type Option func(*clientOptions)

type clientOptions struct {
	logger     *log.Logger
	hooks      []redis.Hook
	skipPing   bool
	noSlowHook bool
}

// WithLogger 设置日志记录器
func WithLogger(logger *log.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithHooks 添加自定义 Hook
func WithHooks(hooks ...redis.Hook) Option {
	return func(o *clientOptions) { o.hooks = append(o.hooks, hooks...) }
}

// WithoutPing 创建时不做连通性检查
func WithoutPing() Option {
	return func(o *clientOptions) { o.skipPing = true }
}

// WithoutSlowLog 不安装慢命令日志 Hook
func WithoutSlowLog() Option {
	return func(o *clientOptions) { o.noSlowHook = true }
}
