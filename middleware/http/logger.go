package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kochabx/vidchat/log"
)

const RequestIDHeader = "X-Request-Id"

// LoggerConfig 日志中间件配置
type LoggerConfig struct {
	Header      bool                    // 是否记录请求头
	HandlerName bool                    // 是否记录处理器名称
	SkipPaths   []string                // 跳过记录的路径
	SkipFunc    func(*gin.Context) bool // 动态跳过判断函数
	Logger      *log.Logger             // 自定义日志记录器
}

// Logger 创建访问日志中间件。缺少 X-Request-Id 时生成一个并回写到响应头。
// 请求体可能是上传的视频，不记录。
func Logger(cfgs ...LoggerConfig) gin.HandlerFunc {
	cfg := LoggerConfig{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.Logger == nil {
		cfg.Logger = log.G
	}

	matcher := NewPathMatcher(cfg.SkipPaths)

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		if shouldSkip(c, matcher, cfg.SkipFunc) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := cfg.Logger.Info()
		if status >= 500 {
			event = cfg.Logger.Error()
		}
		event = event.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", requestID)

		if query := c.Request.URL.RawQuery; query != "" {
			event = event.Str("query", query)
		}

		if cfg.HandlerName {
			event = event.Str("handler", c.HandlerName())
		}

		if cfg.Header {
			event = event.Any("headers", redactHeaders(c))
		}

		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
		}

		event.Send()
	}
}

// redactHeaders 去掉会话凭证后的请求头
func redactHeaders(c *gin.Context) map[string][]string {
	out := make(map[string][]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		switch k {
		case "Cookie", "Authorization":
			out[k] = []string{"[redacted]"}
		default:
			out[k] = v
		}
	}
	return out
}
