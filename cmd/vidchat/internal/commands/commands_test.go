package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kochabx/vidchat/core/manager"
	"github.com/kochabx/vidchat/metrics"
	"github.com/kochabx/vidchat/transport/http/api"
)

func writeConfig(t *testing.T, redisAddr string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	yaml := `
redis:
  url: redis://` + redisAddr + `/0
session:
  lifetime: 30m
  fingerprint_secret: test-secret
maintenance:
  disabled: true
http:
  addr: 127.0.0.1:0
  mode: test
cookie:
  secure: false
log:
  level: error
users:
  alice:
    password: "` + string(hash) + `"
    email: alice@example.com
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	g := &Globals{ConfigFile: writeConfig(t, mr.Addr())}

	cfg, logger, err := g.load()
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.Equal(t, "redis://"+mr.Addr()+"/0", cfg.Redis.URL)
	assert.Equal(t, 30*time.Minute, cfg.Session.Lifetime)
	assert.True(t, cfg.Maintenance.Disabled)
	assert.Equal(t, "session_id", cfg.Cookie.Name)
	assert.False(t, cfg.Cookie.Secure)
	assert.True(t, cfg.Cookie.HTTPOnly)
	assert.Equal(t, int64(64<<20), cfg.HTTP.MaxBodyBytes)
	require.Contains(t, cfg.Users, "alice")
	assert.Equal(t, "alice@example.com", cfg.Users["alice"].Email)
}

func TestLoadConfigRejectsUserWithoutPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  url: redis://"+mr.Addr()+"\nusers:\n  bob:\n    email: bob@example.com\n"), 0o600))

	_, _, err := (&Globals{ConfigFile: path}).load()
	assert.Error(t, err)
}

func TestEngineLogin(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, logger, err := (&Globals{ConfigFile: writeConfig(t, mr.Addr())}).load()
	require.NoError(t, err)

	m, err := manager.New(context.Background(), cfg.Config, manager.WithLogger(logger), manager.WithMetrics(metrics.New("test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	idp, err := api.NewStaticIdentityProvider(cfg.Users)
	require.NoError(t, err)
	engine, err := newEngine(cfg, m, idp, logger)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewBufferString(`{"username":"alice","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Set-Cookie"), "session_id=")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewBuffer(make([]byte, 128)))
	req.ContentLength = cfg.HTTP.MaxBodyBytes + 1
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
