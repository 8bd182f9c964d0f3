package middleware

import (
	"context"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/core/rate"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	transport "github.com/kochabx/vidchat/transport/http"
)

// Reserver 由 *rate.FixedWindowLimiter 实现
type Reserver interface {
	Reserve(ctx context.Context, resource, identifier string) (rate.Decision, error)
}

// RateLimitConfig 限流中间件配置
type RateLimitConfig struct {
	Limiter  Reserver
	Resource string
	// KeyFunc 限流标识，默认客户端 IP
	KeyFunc   func(*gin.Context) string
	SkipPaths []string
	Logger    *log.Logger
}

// RateLimit 超出额度返回 429 并带 Retry-After；限流存储不可用时放行
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = log.G
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	matcher := NewPathMatcher(cfg.SkipPaths)

	return func(c *gin.Context) {
		if cfg.Limiter == nil || shouldSkip(c, matcher, nil) {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		d, err := cfg.Limiter.Reserve(c.Request.Context(), cfg.Resource, key)
		if err != nil {
			cfg.Logger.Warn().Err(err).Str("resource", cfg.Resource).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			seconds := max(1, int(math.Ceil(d.RetryAfter.Seconds())))
			c.Header("Retry-After", strconv.Itoa(seconds))
			transport.GinError(c, errors.ErrRateLimited.WithMetadata(map[string]string{"resource": cfg.Resource}))
			return
		}
		c.Next()
	}
}
