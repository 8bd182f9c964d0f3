package middleware

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"

	kerrors "github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	transport "github.com/kochabx/vidchat/transport/http"
)

// RecoveryConfig Recovery 中间件配置
type RecoveryConfig struct {
	StackTrace bool
	Logger     *log.Logger
}

// Recovery 捕获 handler 的 panic 并返回 500。日志带请求 id 与会话主体，
// 不记录请求头与 cookie；客户端断开只记 warn 且不写响应。
func Recovery(cfgs ...RecoveryConfig) gin.HandlerFunc {
	cfg := RecoveryConfig{StackTrace: true}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.Logger == nil {
		cfg.Logger = log.G
	}

	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			brokenPipe := isBrokenPipe(rec)
			event := cfg.Logger.Error()
			if brokenPipe {
				event = cfg.Logger.Warn()
			}
			event = event.
				Str("panic", fmt.Sprint(rec)).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("request_id", c.Writer.Header().Get(RequestIDHeader))
			if sess, _, ok := CurrentSession(c); ok {
				event = event.Str("subject", sess.Subject)
			}

			if brokenPipe {
				event.Msg("client connection closed")
				_ = c.Error(fmt.Errorf("%v", rec))
				c.Abort()
				return
			}
			if cfg.StackTrace {
				event = event.Bytes("stack", debug.Stack())
			}
			event.Msg("panic recovered")
			transport.GinError(c, kerrors.Internal("internal error"))
		}()
		c.Next()
	}
}

func isBrokenPipe(rec any) bool {
	err, ok := rec.(error)
	if !ok {
		return false
	}
	var ne *net.OpError
	if !errors.As(err, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
