package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kochabx/vidchat/log"
)

// Handler 处理单个任务，返回值作为结果记录写入 result:<id>
type Handler func(ctx context.Context, task *Task) (any, error)

// Worker 按优先级轮询队列，在协程池中执行已注册类型的任务。
// 失败的任务重新入队，累计失败 MaxRetries 次后移入死信队列。
type Worker struct {
	id       string
	queue    *Queue
	logger   *log.Logger
	handlers map[TaskType]Handler
	types    []TaskType
	pool     *ants.Pool

	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskCount atomic.Int64
}

// NewWorker 创建 Worker，协程池大小为 Config.Workers
func NewWorker(q *Queue) (*Worker, error) {
	pool, err := ants.NewPool(q.cfg.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	id := "worker-" + uuid.NewString()[:8]
	return &Worker{
		id:       id,
		queue:    q,
		logger:   q.logger.With(map[string]string{"worker_id": id}),
		handlers: make(map[TaskType]Handler),
		pool:     pool,
	}, nil
}

func (w *Worker) ID() string { return w.id }

// TaskCount 已处理（无论成败）的任务数
func (w *Worker) TaskCount() int64 { return w.taskCount.Load() }

// Handle 注册任务处理器，必须在 Start 之前调用
func (w *Worker) Handle(taskType TaskType, h Handler) error {
	if !taskType.Valid() || h == nil {
		return fmt.Errorf("invalid handler registration for %s", taskType)
	}
	if w.running.Load() {
		return fmt.Errorf("worker already running")
	}
	if _, ok := w.handlers[taskType]; !ok {
		w.types = append(w.types, taskType)
		slices.Sort(w.types)
	}
	w.handlers[taskType] = h
	return nil
}

// Start 启动轮询循环
func (w *Worker) Start(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("no task handlers registered")
	}
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("worker already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.pollLoop(ctx)
	w.logger.Info().Int("concurrency", w.pool.Cap()).Msg("worker started")
	return nil
}

// Stop 停止轮询并等待进行中的任务结束
func (w *Worker) Stop(ctx context.Context) error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn().Msg("worker stop timeout, tasks in progress will be retried")
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := w.pool.ReleaseTimeout(timeout); err != nil {
		w.logger.Warn().Err(err).Msg("worker pool release timeout")
	}
	w.logger.Info().Int64("tasks", w.taskCount.Load()).Msg("worker stopped")
	return nil
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.queue.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain 在协程池有空闲时持续取任务
func (w *Worker) drain(ctx context.Context) {
	for w.pool.Free() > 0 {
		if ctx.Err() != nil {
			return
		}
		task, err := w.queue.DequeueNext(ctx, w.types...)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("failed to dequeue task")
			}
			return
		}
		if task == nil {
			return
		}

		w.wg.Add(1)
		if err := w.pool.Submit(func() {
			defer w.wg.Done()
			w.Process(ctx, task)
		}); err != nil {
			w.wg.Done()
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to submit task to pool")
			w.Process(ctx, task)
		}
	}
}

// Process 执行单个已出队的任务并记录结果、重试或移入死信队列
func (w *Worker) Process(ctx context.Context, task *Task) {
	defer w.taskCount.Add(1)

	handler, ok := w.handlers[task.Type]
	if !ok {
		w.settle(ctx, task, fmt.Errorf("no handler for %s", task.Type), true)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.queue.cfg.TaskTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				w.logger.Error().Str("task_id", task.ID).Interface("panic", r).Msg("handler panic")
			}
		}()
		result, err = handler(taskCtx, task)
	}()

	if err != nil {
		w.settle(ctx, task, err, false)
		return
	}
	if err := w.queue.Complete(context.WithoutCancel(ctx), task, result); err != nil {
		// 结果未落盘时按失败处理，任务重新入队而不是停留在 processing
		w.settle(ctx, task, fmt.Errorf("record result: %w", err), false)
		return
	}
	w.logger.Debug().Str("task_id", task.ID).Str("type", task.Type.String()).Msg("task succeeded")
}

// settle 处理失败：预算内重新入队，否则移入死信队列
func (w *Worker) settle(ctx context.Context, task *Task, cause error, fatal bool) {
	// 停机时也要把任务放回队列
	ctx = context.WithoutCancel(ctx)

	now := w.queue.now()
	task.Retries++
	task.LastRetryAt = &now
	task.LastError = cause.Error()
	w.logger.Warn().Err(cause).Str("task_id", task.ID).Str("type", task.Type.String()).Int("retries", task.Retries).Msg("task failed")

	if !fatal && task.Retries < w.queue.cfg.MaxRetries {
		if err := w.queue.Requeue(ctx, task); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to requeue task")
		}
		return
	}
	if err := w.queue.MoveToDLQ(ctx, task, cause); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to move task to dead letter queue")
	}
}
