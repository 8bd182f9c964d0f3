// Package tasks 提供后台队列任务的处理器。
package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/kochabx/vidchat/core/blob"
	"github.com/kochabx/vidchat/core/cache"
	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
)

// chatHistoryLimit 每个用户保留的对话条数
const chatHistoryLimit = 50

// VideoPayload 视频分析/处理任务参数
type VideoPayload struct {
	FileID  string `json:"file_id"`
	Subject string `json:"subject"`
}

// VideoResult 视频任务结果
type VideoResult struct {
	FileID      string    `json:"file_id"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	ContentType string    `json:"content_type"`
	ArchivedAs  string    `json:"archived_as,omitempty"`
	Compressed  bool      `json:"compressed"`
	Chunks      int       `json:"chunks"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// ChatPayload 对话任务参数
type ChatPayload struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	FileID  string `json:"file_id,omitempty"`
}

// ChatEntry 对话历史中的一条记录
type ChatEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Archiver 把处理完的文件转存到长期存储，由 *minio.Client 实现
type Archiver interface {
	Put(ctx context.Context, fileID string, data []byte, contentType string) (string, error)
}

// Handlers 持有任务处理所需的存储
type Handlers struct {
	blobs    *blob.Store
	cache    *cache.Cache
	archiver Archiver
	logger   *log.Logger
	now      func() time.Time
}

type Option func(*Handlers)

func WithLogger(logger *log.Logger) Option {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithArchiver 视频处理任务完成后转存文件
func WithArchiver(a Archiver) Option {
	return func(h *Handlers) { h.archiver = a }
}

func New(blobs *blob.Store, c *cache.Cache, opts ...Option) *Handlers {
	h := &Handlers{
		blobs:  blobs,
		cache:  c,
		logger: log.G,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Component("tasks")
	return h
}

// Register 把全部处理器注册到 worker
func (h *Handlers) Register(w *queue.Worker) error {
	for t, fn := range map[queue.TaskType]queue.Handler{
		queue.TaskVideoAnalysis:   h.Video,
		queue.TaskVideoProcessing: h.Process,
		queue.TaskChatResponse:    h.Chat,
	} {
		if err := w.Handle(t, fn); err != nil {
			return err
		}
	}
	return nil
}

// Video 读取已上传文件并计算摘要与内容类型
func (h *Handlers) Video(ctx context.Context, task *queue.Task) (any, error) {
	res, _, err := h.analyze(ctx, task)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Process 在分析结果的基础上把文件转存到归档存储，未配置归档时等同 Video
func (h *Handlers) Process(ctx context.Context, task *queue.Task) (any, error) {
	res, data, err := h.analyze(ctx, task)
	if err != nil {
		return nil, err
	}
	if h.archiver == nil {
		return res, nil
	}
	if res.ArchivedAs, err = h.archiver.Put(ctx, res.FileID, data, res.ContentType); err != nil {
		return nil, err
	}
	h.logger.Info().Str("task_id", task.ID).Str("file_id", res.FileID).Str("object", res.ArchivedAs).Msg("video archived")
	return res, nil
}

func (h *Handlers) analyze(ctx context.Context, task *queue.Task) (VideoResult, []byte, error) {
	var p VideoPayload
	if err := task.Decode(&p); err != nil || p.FileID == "" {
		return VideoResult{}, nil, errors.ErrInvalidInput.WithReason("video_payload").WithCause(err)
	}

	meta, err := h.blobs.Stat(ctx, p.FileID)
	if err != nil {
		return VideoResult{}, nil, err
	}
	data, err := h.blobs.Retrieve(ctx, p.FileID)
	if err != nil {
		return VideoResult{}, nil, err
	}

	sum := sha256.Sum256(data)
	res := VideoResult{
		FileID:      p.FileID,
		Size:        meta.Size,
		SHA256:      hex.EncodeToString(sum[:]),
		ContentType: http.DetectContentType(data),
		Compressed:  meta.Compressed,
		Chunks:      meta.Chunks,
		AnalyzedAt:  h.now().UTC(),
	}
	h.logger.Info().Str("task_id", task.ID).Str("file_id", p.FileID).Str("content_type", res.ContentType).Msg("video analyzed")
	return res, data, nil
}

// Chat 把用户消息与确认回复追加到对话历史
func (h *Handlers) Chat(ctx context.Context, task *queue.Task) (any, error) {
	var p ChatPayload
	if err := task.Decode(&p); err != nil || p.Subject == "" || strings.TrimSpace(p.Message) == "" {
		return nil, errors.ErrInvalidInput.WithReason("chat_payload").WithCause(err)
	}

	now := h.now().UTC()
	reply := ChatEntry{Role: "assistant", Content: "received: " + p.Message, At: now}
	if p.FileID != "" {
		reply.Content += " (video " + p.FileID + ")"
	}
	_, err := cache.Update(ctx, h.cache, cache.ChatHistoryKey(p.Subject), 0, func(history []ChatEntry) ([]ChatEntry, error) {
		history = append(history, ChatEntry{Role: "user", Content: p.Message, At: now}, reply)
		if n := len(history); n > chatHistoryLimit {
			history = history[n-chatHistoryLimit:]
		}
		return history, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}
