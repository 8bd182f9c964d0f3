// Package api 注册会话、视频与任务相关的 HTTP 接口。
package api

import (
	"context"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kochabx/vidchat/core/manager"
	"github.com/kochabx/vidchat/log"
	middleware "github.com/kochabx/vidchat/middleware/http"
	transport "github.com/kochabx/vidchat/transport/http"
)

// 限流资源名
const (
	ResourceLogin  = "login"
	ResourceUpload = "upload"
)

// Credentials 登录凭证
type Credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Identity 身份提供方确认的用户
type Identity struct {
	Subject string
	Email   string
	Data    map[string]any
}

// IdentityProvider 外部身份认证，凭证无效时返回错误
type IdentityProvider interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// Archive 归档存储的查询与下载链接，由 *minio.Client 实现
type Archive interface {
	Exists(ctx context.Context, fileID string) (bool, error)
	PresignedURL(ctx context.Context, fileID string) (*url.URL, time.Time, error)
}

// Handler 接口实现
type Handler struct {
	m       *manager.Manager
	idp     IdentityProvider
	cookie  transport.CookieConfig
	archive Archive
	logger  *log.Logger
	newID   func() string
}

type Option func(*Handler)

func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithArchive 启用 /api/videos/:id/link
func WithArchive(a Archive) Option {
	return func(h *Handler) { h.archive = a }
}

// WithIDGenerator 替换会话与文件 id 生成器，用于测试
func WithIDGenerator(fn func() string) Option {
	return func(h *Handler) { h.newID = fn }
}

func New(m *manager.Manager, idp IdentityProvider, cookie transport.CookieConfig, opts ...Option) *Handler {
	h := &Handler{
		m:      m,
		idp:    idp,
		cookie: cookie,
		logger: log.G,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Component("api")
	return h
}

// Register 挂载全部路由
func (h *Handler) Register(r gin.IRouter) {
	auth := middleware.SessionAuth(middleware.SessionAuthConfig{
		Verifier: h.m.Sessions,
		Cookie:   h.cookie,
		Logger:   h.logger,
	})
	loginLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:  h.m.Limiter,
		Resource: ResourceLogin,
		Logger:   h.logger,
	})
	uploadLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:  h.m.Limiter,
		Resource: ResourceUpload,
		KeyFunc:  middleware.SubjectOrIP,
		Logger:   h.logger,
	})

	api := r.Group("/api")
	api.POST("/session", loginLimit, h.login)
	api.GET("/session", auth, h.current)
	api.DELETE("/session", auth, h.logout)
	api.POST("/session/keepalive", auth, h.keepalive)

	api.POST("/videos", auth, uploadLimit, h.upload)
	api.GET("/videos", auth, h.history)
	api.GET("/videos/:id", auth, h.video)
	api.GET("/videos/:id/link", auth, h.link)

	api.POST("/chat", auth, h.chat)
	api.GET("/tasks/:id", auth, h.task)

	r.GET("/metrics/summary", h.summary)
	r.GET("/metrics/security", h.security)
}
