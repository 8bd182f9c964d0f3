package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/errors"
	middleware "github.com/kochabx/vidchat/middleware/http"
	transport "github.com/kochabx/vidchat/transport/http"
)

type sessionView struct {
	Subject      string    `json:"subject"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastRefresh  time.Time `json:"last_refresh"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshCount int       `json:"refresh_count"`
}

func (h *Handler) view(sess *session.Session) sessionView {
	return sessionView{
		Subject:      sess.Subject,
		Email:        sess.Email,
		CreatedAt:    sess.CreatedAt,
		LastRefresh:  sess.LastRefresh,
		ExpiresAt:    sess.LastRefresh.Add(h.m.Sessions.Config().Lifetime),
		RefreshCount: sess.RefreshCount,
	}
}

func (h *Handler) login(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		transport.GinError(c, errors.ErrInvalidInput.WithReason("malformed_credentials"))
		return
	}

	ctx := c.Request.Context()
	ident, err := h.idp.Authenticate(ctx, creds)
	if err != nil || ident == nil || ident.Subject == "" {
		h.logger.Info().Err(err).Str("client_ip", c.ClientIP()).Msg("login rejected")
		transport.GinError(c, errors.ErrInvalidSession)
		return
	}

	id := h.newID()
	sess := &session.Session{Subject: ident.Subject, Email: ident.Email, Data: ident.Data}
	ok, err := h.m.Sessions.CreateSecure(ctx, id, sess, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		transport.GinError(c, err)
		return
	}
	if !ok {
		transport.GinError(c, errors.ErrRateLimited.WithReason("too_many_sessions"))
		return
	}

	transport.SetSessionCookie(c, h.cookie, id, h.m.Sessions.Config().Lifetime)
	transport.GinJSON(c, h.view(sess))
}

// current 返回当前会话，临近过期时顺带刷新并续期 cookie
func (h *Handler) current(c *gin.Context) {
	sess, id, _ := middleware.CurrentSession(c)
	ctx := c.Request.Context()

	refreshed, err := h.m.Sessions.Refresh(ctx, id)
	if err != nil {
		h.logger.Warn().Err(err).Msg("session refresh failed")
	}
	if refreshed {
		if cur, err := h.m.Sessions.Get(ctx, id); err == nil {
			sess = cur
		}
		transport.SetSessionCookie(c, h.cookie, id, h.m.Sessions.Config().Lifetime)
	}
	transport.GinJSON(c, h.view(sess))
}

func (h *Handler) keepalive(c *gin.Context) {
	_, id, _ := middleware.CurrentSession(c)
	ok, err := h.m.Sessions.Keepalive(c.Request.Context(), id)
	if err != nil {
		transport.GinError(c, err)
		return
	}
	if !ok {
		transport.GinError(c, errors.ErrInvalidSession)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) logout(c *gin.Context) {
	_, id, _ := middleware.CurrentSession(c)
	if err := h.m.Sessions.Delete(c.Request.Context(), id); err != nil {
		transport.GinError(c, err)
		return
	}
	transport.ClearSessionCookie(c, h.cookie)
	transport.GinJSON(c, nil)
}
