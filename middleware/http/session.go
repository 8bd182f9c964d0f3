package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	transport "github.com/kochabx/vidchat/transport/http"
)

const (
	sessionKey   = "vidchat.session"
	sessionIDKey = "vidchat.session_id"
)

// SessionVerifier 校验会话并执行设备指纹、IP 变更策略，由 *session.Store 实现
type SessionVerifier interface {
	VerifyRequest(ctx context.Context, id, userAgent, ip string) (bool, *session.Session, error)
}

// SessionAuthConfig 会话认证配置
type SessionAuthConfig struct {
	Verifier  SessionVerifier
	Cookie    transport.CookieConfig
	SkipPaths []string
	Logger    *log.Logger
}

// SessionAuth 从 cookie 取会话 id 并校验。任何失败（包括存储不可用）都返回 401，
// 响应不区分具体原因。
func SessionAuth(cfg SessionAuthConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = log.G
	}
	matcher := NewPathMatcher(cfg.SkipPaths)

	return func(c *gin.Context) {
		if shouldSkip(c, matcher, nil) {
			c.Next()
			return
		}

		id := transport.SessionID(c, cfg.Cookie)
		if id == "" || cfg.Verifier == nil {
			transport.GinError(c, errors.ErrInvalidSession.WithReason("missing_cookie"))
			return
		}

		ok, sess, err := cfg.Verifier.VerifyRequest(c.Request.Context(), id, c.Request.UserAgent(), c.ClientIP())
		if err != nil {
			cfg.Logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("session verification failed closed")
		}
		if err != nil || !ok || sess == nil {
			transport.GinError(c, errors.ErrInvalidSession)
			return
		}

		c.Set(sessionKey, sess)
		c.Set(sessionIDKey, id)
		c.Next()
	}
}

// CurrentSession 返回 SessionAuth 写入的会话
func CurrentSession(c *gin.Context) (*session.Session, string, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, "", false
	}
	sess, ok := v.(*session.Session)
	if !ok {
		return nil, "", false
	}
	return sess, c.GetString(sessionIDKey), true
}
