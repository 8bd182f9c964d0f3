package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/tasks"
	"github.com/kochabx/vidchat/errors"
	middleware "github.com/kochabx/vidchat/middleware/http"
	transport "github.com/kochabx/vidchat/transport/http"
)

type chatRequest struct {
	Message string `json:"message" binding:"required"`
	FileID  string `json:"file_id"`
}

func (h *Handler) task(c *gin.Context) {
	t, err := h.m.Queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		transport.GinError(c, err)
		return
	}
	transport.GinJSON(c, t)
}

// chat 异步投递对话消息，结果经 /api/tasks/:id 查询
func (h *Handler) chat(c *gin.Context) {
	sess, _, _ := middleware.CurrentSession(c)
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		transport.GinError(c, errors.ErrInvalidInput.WithReason("malformed_message"))
		return
	}
	id, err := h.m.Queue.Enqueue(c.Request.Context(), queue.TaskChatResponse, tasks.ChatPayload{
		Subject: sess.Subject,
		Message: req.Message,
		FileID:  req.FileID,
	}, queue.PriorityHigh)
	if err != nil {
		transport.GinError(c, err)
		return
	}
	transport.GinStatus(c, http.StatusAccepted, gin.H{"task_id": id})
}

func (h *Handler) summary(c *gin.Context) {
	snap, err := h.m.GetMetrics(c.Request.Context())
	if err != nil {
		// 部分数据仍然返回
		h.logger.Warn().Err(err).Msg("metrics snapshot incomplete")
	}
	transport.GinJSON(c, snap)
}

func (h *Handler) security(c *gin.Context) {
	sm, err := h.m.GetSecurityMetrics(c.Request.Context())
	if err != nil {
		transport.GinError(c, err)
		return
	}
	transport.GinJSON(c, sm)
}
