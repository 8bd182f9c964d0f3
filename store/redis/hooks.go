package redis

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/log"
)

// SlowLogHook 记录慢命令与拨号失败。命令参数可能含会话数据，只记录命令名。
type SlowLogHook struct {
	logger    *log.Logger
	threshold time.Duration
}

// NewSlowLogHook 创建慢命令 Hook
func NewSlowLogHook(logger *log.Logger, threshold time.Duration) *SlowLogHook {
	return &SlowLogHook{logger: logger, threshold: threshold}
}

func (h *SlowLogHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warn().Str("addr", addr).Dur("duration", time.Since(start)).Err(err).Msg("redis dial failed")
		}
		return conn, err
	}
}

func (h *SlowLogHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		if d := time.Since(start); d > h.threshold {
			h.logger.Warn().Str("cmd", cmd.FullName()).Dur("duration", d).Dur("threshold", h.threshold).Msg("slow redis command")
		}
		return err
	}
}

func (h *SlowLogHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if d := time.Since(start); d > h.threshold {
			names := make([]string, len(cmds))
			for i, cmd := range cmds {
				names[i] = cmd.FullName()
			}
			h.logger.Warn().Strs("commands", names).Dur("duration", d).Dur("threshold", h.threshold).Msg("slow redis pipeline")
		}
		return err
	}
}
