package api

import (
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/core/cache"
	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/tasks"
	"github.com/kochabx/vidchat/errors"
	middleware "github.com/kochabx/vidchat/middleware/http"
	transport "github.com/kochabx/vidchat/transport/http"
)

// historyLimit 每个用户保留的上传记录数
const historyLimit = 20

var errTooLarge = errors.New(http.StatusRequestEntityTooLarge, "file too large")

// Upload 上传记录
type Upload struct {
	FileID     string    `json:"file_id"`
	TaskID     string    `json:"task_id"`
	ProcessID  string    `json:"process_task_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (h *Handler) upload(c *gin.Context) {
	sess, _, _ := middleware.CurrentSession(c)
	ctx := c.Request.Context()
	limit := h.m.Blobs.Config().MaxFileSize

	fh, err := c.FormFile("file")
	if err != nil {
		transport.GinError(c, errors.ErrInvalidInput.WithReason("missing_file"))
		return
	}
	if fh.Size > limit {
		transport.GinError(c, errTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		transport.GinError(c, errors.ErrInvalidInput.WithReason("unreadable_file").WithCause(err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		transport.GinError(c, errors.ErrInvalidInput.WithReason("unreadable_file").WithCause(err))
		return
	}
	if int64(len(data)) > limit {
		transport.GinError(c, errTooLarge)
		return
	}

	fileID := h.newID()
	if _, err := h.m.Blobs.Store(ctx, fileID, data); err != nil {
		transport.GinError(c, err)
		return
	}
	payload := tasks.VideoPayload{FileID: fileID, Subject: sess.Subject}
	taskID, err := h.m.Queue.Enqueue(ctx, queue.TaskVideoAnalysis, payload, queue.PriorityMedium)
	if err != nil {
		transport.GinError(c, err)
		return
	}
	processID, err := h.m.Queue.Enqueue(ctx, queue.TaskVideoProcessing, payload, queue.PriorityLow)
	if err != nil {
		transport.GinError(c, err)
		return
	}

	up := Upload{
		FileID:     fileID,
		TaskID:     taskID,
		ProcessID:  processID,
		Filename:   fh.Filename,
		Size:       int64(len(data)),
		UploadedAt: time.Now().UTC(),
	}
	if err := h.remember(c, sess.Subject, up); err != nil {
		// 历史只用于展示，写失败不影响本次上传
		h.logger.Warn().Err(err).Str("file_id", fileID).Msg("failed to update upload history")
	}
	transport.GinStatus(c, http.StatusAccepted, up)
}

func (h *Handler) uploads(c *gin.Context, subject string) ([]Upload, error) {
	var list []Upload
	if _, err := h.m.Cache.Get(c.Request.Context(), cache.VideoHistoryKey(subject), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (h *Handler) remember(c *gin.Context, subject string, up Upload) error {
	_, err := cache.Update(c.Request.Context(), h.m.Cache, cache.VideoHistoryKey(subject), h.m.Blobs.Config().TTL,
		func(list []Upload) ([]Upload, error) {
			list = append([]Upload{up}, list...)
			if len(list) > historyLimit {
				list = list[:historyLimit]
			}
			return list, nil
		})
	return err
}

func (h *Handler) history(c *gin.Context) {
	sess, _, _ := middleware.CurrentSession(c)
	list, err := h.uploads(c, sess.Subject)
	if err != nil {
		transport.GinError(c, err)
		return
	}
	if list == nil {
		list = []Upload{}
	}
	transport.GinJSON(c, list)
}

// owned 确认文件出现在当前用户的上传记录中
func (h *Handler) owned(c *gin.Context, id string) bool {
	sess, _, _ := middleware.CurrentSession(c)
	list, err := h.uploads(c, sess.Subject)
	if err != nil {
		transport.GinError(c, err)
		return false
	}
	if !slices.ContainsFunc(list, func(u Upload) bool { return u.FileID == id }) {
		transport.GinError(c, errors.ErrNotFound.WithReason("file"))
		return false
	}
	return true
}

// video 返回文件元数据，download=1 时返回文件内容。只能访问自己上传的文件。
func (h *Handler) video(c *gin.Context) {
	id := c.Param("id")
	if !h.owned(c, id) {
		return
	}

	ctx := c.Request.Context()
	if c.Query("download") == "1" {
		data, err := h.m.Blobs.Retrieve(ctx, id)
		if err != nil {
			transport.GinError(c, err)
			return
		}
		c.Data(http.StatusOK, http.DetectContentType(data), data)
		return
	}
	meta, err := h.m.Blobs.Stat(ctx, id)
	if err != nil {
		transport.GinError(c, err)
		return
	}
	transport.GinJSON(c, meta)
}

// link 返回归档文件的限时下载链接
func (h *Handler) link(c *gin.Context) {
	id := c.Param("id")
	if h.archive == nil {
		transport.GinError(c, errors.ErrNotFound.WithReason("archive_disabled"))
		return
	}
	if !h.owned(c, id) {
		return
	}
	ctx := c.Request.Context()
	ok, err := h.archive.Exists(ctx, id)
	if err != nil {
		transport.GinError(c, errors.ErrUnavailable.WithCause(err))
		return
	}
	if !ok {
		transport.GinError(c, errors.ErrNotFound.WithReason("not_archived"))
		return
	}
	u, expires, err := h.archive.PresignedURL(ctx, id)
	if err != nil {
		transport.GinError(c, errors.ErrUnavailable.WithCause(err))
		return
	}
	transport.GinJSON(c, gin.H{"url": u.String(), "expires_at": expires})
}
