package middleware

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/vidchat/core/rate"
	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	transport "github.com/kochabx/vidchat/transport/http"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var cookie = transport.CookieConfig{Name: "session_id", Path: "/"}

type fakeVerifier struct {
	ok   bool
	err  error
	seen struct{ id, ua, ip string }
}

func (f *fakeVerifier) VerifyRequest(ctx context.Context, id, userAgent, ip string) (bool, *session.Session, error) {
	f.seen.id, f.seen.ua, f.seen.ip = id, userAgent, ip
	if f.err != nil || !f.ok {
		return false, nil, f.err
	}
	return true, &session.Session{Subject: "u1"}, nil
}

func authRouter(v SessionVerifier) *gin.Engine {
	r := gin.New()
	r.Use(SessionAuth(SessionAuthConfig{Verifier: v, Cookie: cookie, SkipPaths: []string{"/public/**"}, Logger: log.Nop()}))
	r.GET("/me", func(c *gin.Context) {
		sess, id, ok := CurrentSession(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": sess.Subject, "sid": id})
	})
	r.GET("/public/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func request(r http.Handler, path, sid string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("User-Agent", "test-agent")
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: sid})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionAuth(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v := &fakeVerifier{ok: true}
		w := request(authRouter(v), "/me", "s1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"subject":"u1","sid":"s1"}`, w.Body.String())
		assert.Equal(t, "s1", v.seen.id)
		assert.Equal(t, "test-agent", v.seen.ua)
		assert.NotEmpty(t, v.seen.ip)
	})

	t.Run("missing cookie", func(t *testing.T) {
		w := request(authRouter(&fakeVerifier{ok: true}), "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"code":401,"msg":"unauthorized"}`, w.Body.String())
	})

	t.Run("rejected", func(t *testing.T) {
		w := request(authRouter(&fakeVerifier{ok: false}), "/me", "s1")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("store unavailable fails closed", func(t *testing.T) {
		w := request(authRouter(&fakeVerifier{err: errors.ErrUnavailable}), "/me", "s1")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"code":401,"msg":"unauthorized"}`, w.Body.String())
	})

	t.Run("skipped path", func(t *testing.T) {
		w := request(authRouter(&fakeVerifier{}), "/public/ping", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

type fakeReserver struct {
	decision rate.Decision
	err      error
	keys     []string
}

func (f *fakeReserver) Reserve(ctx context.Context, resource, identifier string) (rate.Decision, error) {
	f.keys = append(f.keys, resource+"|"+identifier)
	return f.decision, f.err
}

func limitRouter(l Reserver) *gin.Engine {
	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{
		Limiter:  l,
		Resource: "login",
		KeyFunc:  func(c *gin.Context) string { return "k" },
		Logger:   log.Nop(),
	}))
	r.GET("/login", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestRateLimit(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		f := &fakeReserver{decision: rate.Decision{Allowed: true, Limit: 5, Remaining: 4}}
		w := request(limitRouter(f), "/login", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, []string{"login|k"}, f.keys)
	})

	t.Run("rejected", func(t *testing.T) {
		f := &fakeReserver{decision: rate.Decision{Limit: 5, RetryAfter: 1500 * time.Millisecond}}
		w := request(limitRouter(f), "/login", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("zero retry hint rounds up", func(t *testing.T) {
		f := &fakeReserver{decision: rate.Decision{Limit: 5}}
		w := request(limitRouter(f), "/login", "")
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
	})

	t.Run("fails open", func(t *testing.T) {
		f := &fakeReserver{err: errors.ErrUnavailable}
		w := request(limitRouter(f), "/login", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Retry-After"))
	})
}

func TestLoggerAndRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriter(&buf, log.WithLevel(zerolog.InfoLevel))

	r := gin.New()
	r.Use(Logger(LoggerConfig{Logger: logger, SkipPaths: []string{"/health"}, Header: true}))
	r.Use(Recovery(RecoveryConfig{Logger: logger}))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := request(r, "/panic", "secret")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":500,"msg":"internal error"}`, w.Body.String())
	requestID := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, requestID)

	out := buf.String()
	assert.Contains(t, out, "panic recovered")
	assert.Contains(t, out, `"status":500`)
	assert.Contains(t, out, requestID)
	assert.NotContains(t, out, "secret")

	buf.Reset()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "fixed")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed", w.Header().Get(RequestIDHeader))
	assert.Empty(t, buf.String())
}

func TestPathMatcher(t *testing.T) {
	m := NewPathMatcher([]string{"/health", "/api/**", "/files/*/raw"})
	assert.True(t, m.Match("/health"))
	assert.True(t, m.Match("/api"))
	assert.True(t, m.Match("/api/videos/1"))
	assert.False(t, m.Match("/apix"))
	assert.True(t, m.Match("/files/abc/raw"))
	assert.False(t, m.Match("/files/a/b/raw"))
	assert.False(t, (*PathMatcher)(nil).Match("/health"))
}

func TestSubjectOrIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.1.2.3:4567"
	assert.Equal(t, "ip:10.1.2.3", SubjectOrIP(c))

	c.Set(sessionKey, &session.Session{Subject: "u9"})
	assert.Equal(t, "user:u9", SubjectOrIP(c))
}

func TestRecoveryLogsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriter(&buf, log.WithLevel(zerolog.InfoLevel))

	r := gin.New()
	r.Use(Recovery(RecoveryConfig{Logger: logger}))
	r.Use(func(c *gin.Context) { c.Set(sessionKey, &session.Session{Subject: "u9"}) })
	r.GET("/api/videos", func(c *gin.Context) { panic("nil map") })
	r.GET("/api/stream", func(c *gin.Context) {
		panic(&net.OpError{Op: "write", Err: &os.SyscallError{Syscall: "write", Err: syscall.EPIPE}})
	})

	w := request(r, "/api/videos", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	out := buf.String()
	assert.Contains(t, out, `"subject":"u9"`)
	assert.Contains(t, out, `"path":"/api/videos"`)
	assert.Contains(t, out, `"panic":"nil map"`)
	assert.Contains(t, out, `"stack"`)

	buf.Reset()
	w = request(r, "/api/stream", "")
	assert.Empty(t, w.Body.String())
	out = buf.String()
	assert.Contains(t, out, "client connection closed")
	assert.Contains(t, out, `"level":"warn"`)
	assert.NotContains(t, out, `"stack"`)
}
