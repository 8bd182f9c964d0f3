package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	kiterrors "github.com/kochabx/vidchat/errors"
)

func TestGinStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		status int
		data   any
		want   string
	}{
		{
			name:   "session summary",
			status: http.StatusOK,
			data:   gin.H{"subject": "alice", "trusted": true},
			want:   `{"code":200,"msg":"success","data":{"subject":"alice","trusted":true}}`,
		},
		{
			name:   "queued task",
			status: http.StatusAccepted,
			data:   gin.H{"task_id": "t-1"},
			want:   `{"code":202,"msg":"success","data":{"task_id":"t-1"}}`,
		},
		{
			name:   "no data",
			status: http.StatusOK,
			want:   `{"code":200,"msg":"success"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			GinStatus(c, tt.status, tt.data)

			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestGinJSONDefaultsTo200(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	GinJSON(c, []string{"a.mp4"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":200,"msg":"success","data":["a.mp4"]}`, w.Body.String())

	// nil context 不应 panic
	GinJSON(nil, "x")
	GinError(nil, kiterrors.ErrNotFound)
}

func TestGinError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{
			name:   "unauthorized hides reason",
			err:    kiterrors.ErrInvalidSession.WithReason("fingerprint_mismatch"),
			status: http.StatusUnauthorized,
			want:   `{"code":401,"msg":"unauthorized"}`,
		},
		{
			name:   "rate limited",
			err:    kiterrors.ErrRateLimited,
			status: http.StatusTooManyRequests,
			want:   `{"code":429,"msg":"rate limited"}`,
		},
		{
			name:   "metadata and cause stay private",
			err:    kiterrors.ErrUnavailable.WithReason("breaker_open").WithCause(errors.New("dial tcp: refused")),
			status: http.StatusServiceUnavailable,
			want:   `{"code":503,"msg":"store unavailable"}`,
		},
		{
			name:   "plain error is 500",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			want:   `{"code":500,"msg":"boom"}`,
		},
		{
			name:   "non http code",
			err:    kiterrors.New(10001, "custom"),
			status: http.StatusInternalServerError,
			want:   `{"code":500,"msg":"custom"}`,
		},
		{
			name:   "nil error",
			status: http.StatusInternalServerError,
			want:   `{"code":500,"msg":"operation failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			GinError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.True(t, c.IsAborted())
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}
