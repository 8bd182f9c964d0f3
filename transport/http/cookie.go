package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieConfig 会话 cookie 属性
type CookieConfig struct {
	Name   string `mapstructure:"name" default:"session_id"`
	Path   string `mapstructure:"path" default:"/"`
	Domain string `mapstructure:"domain"`
	// 布尔默认值只在配置加载时生效（先填默认值再解码文件）
	Secure   bool   `mapstructure:"secure" default:"true"`
	HTTPOnly bool   `mapstructure:"http_only" default:"true"`
	SameSite string `mapstructure:"same_site" default:"lax" validate:"oneof=lax strict none"`
}

func (c CookieConfig) sameSite() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// SetSessionCookie 写入会话 cookie，max-age 与会话生存期一致
func SetSessionCookie(c *gin.Context, cfg CookieConfig, sessionID string, lifetime time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.Name,
		Value:    sessionID,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(lifetime / time.Second),
		Secure:   cfg.Secure,
		HttpOnly: cfg.HTTPOnly,
		SameSite: cfg.sameSite(),
	})
}

// ClearSessionCookie 让浏览器立即删除会话 cookie
func ClearSessionCookie(c *gin.Context, cfg CookieConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: cfg.HTTPOnly,
		SameSite: cfg.sameSite(),
	})
}

// SessionID 读取请求中的会话 id，不存在时返回空串
func SessionID(c *gin.Context, cfg CookieConfig) string {
	id, err := c.Cookie(cfg.Name)
	if err != nil {
		return ""
	}
	return id
}
