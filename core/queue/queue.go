// Package queue 实现按 (priority, type) 分区的有序任务队列、结果记录与死信队列。
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
)

const (
	statProcessed = "processed"
	statFailed    = "failed"
)

// Queue 任务队列
type Queue struct {
	rdb     redis.UniversalClient
	runner  *resilience.Runner
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	lastScore int64
}

type Option func(*Queue)

func WithLogger(logger *log.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New 创建任务队列
func New(rdb redis.UniversalClient, runner *resilience.Runner, cfg Config, opts ...Option) (*Queue, error) {
	if rdb == nil || runner == nil {
		return nil, errors.Internal("queue: redis client and runner are required")
	}
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	q := &Queue{rdb: rdb, runner: runner, cfg: cfg, logger: log.G, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.Component("queue")
	return q, nil
}

func (q *Queue) Config() Config {
	return q.cfg
}

// PartitionKey 分区对应的有序集合键
func PartitionKey(p Priority, t TaskType) string {
	return keyspace.QueueKey(p.String(), t.String())
}

// score 入队时间（微秒），同一实例内严格递增以保证同分区内 FIFO
func (q *Queue) score() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.now().UnixMicro()
	if s <= q.lastScore {
		s = q.lastScore + 1
	}
	q.lastScore = s
	return float64(s)
}

// Enqueue 创建 pending 任务并加入分区，同时写入 result:<id> 状态记录
func (q *Queue) Enqueue(ctx context.Context, taskType TaskType, payload any, priority Priority) (string, error) {
	if !taskType.Valid() || !priority.Valid() {
		return "", errors.ErrInvalidInput.WithReason("invalid_task")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.ErrInvalidInput.WithReason("unserializable").WithCause(err)
	}
	task := &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Priority:  priority,
		Payload:   raw,
		Status:    StatusPending,
		CreatedAt: q.now(),
	}
	if err := q.push(ctx, task); err != nil {
		return "", err
	}
	q.metrics.Enqueued(taskType.String(), priority.String())
	q.logger.Debug().Str("task_id", task.ID).Str("type", taskType.String()).Str("priority", priority.String()).Msg("task enqueued")
	return task.ID, nil
}

func (q *Queue) push(ctx context.Context, task *Task) error {
	member, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	score := q.score()
	return q.runner.Exec(ctx, "queue.enqueue", func(ctx context.Context) error {
		_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZAdd(ctx, PartitionKey(task.Priority, task.Type), redis.Z{Score: score, Member: member})
			p.Set(ctx, keyspace.ResultKey(task.ID), member, q.cfg.ResultTTL)
			return nil
		})
		return err
	})
}

// Dequeue 取出分区中最早的任务并标记为 processing；队列为空返回 (nil, nil)。
// 读取队首与移除在 WATCH 下完成，并发冲突时整体重试。
func (q *Queue) Dequeue(ctx context.Context, priority Priority, taskType TaskType) (*Task, error) {
	if !taskType.Valid() || !priority.Valid() {
		return nil, errors.ErrInvalidInput.WithReason("invalid_partition")
	}
	key := PartitionKey(priority, taskType)

	for {
		var (
			task    *Task
			dropped bool
		)
		err := q.runner.Exec(ctx, "queue.dequeue", func(ctx context.Context) error {
			task, dropped = nil, false
			return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
				head, err := tx.ZRangeWithScores(ctx, key, 0, 0).Result()
				if err != nil || len(head) == 0 {
					return err
				}
				member, _ := head[0].Member.(string)

				var t Task
				if err := json.Unmarshal([]byte(member), &t); err != nil {
					// 无法解析的成员直接丢弃，避免阻塞队首
					q.logger.Error().Err(err).Str("queue", key).Msg("dropping undecodable task")
					_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
						p.ZRem(ctx, key, member)
						return nil
					})
					dropped = err == nil
					return err
				}

				started := q.now()
				t.Status = StatusProcessing
				t.StartedAt = &started
				record, err := json.Marshal(&t)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					p.ZRem(ctx, key, member)
					p.Set(ctx, keyspace.ResultKey(t.ID), record, q.cfg.ResultTTL)
					return nil
				})
				if err == nil {
					task = &t
				}
				return err
			}, key)
		})
		if errors.Is(err, redis.TxFailedErr) || (err == nil && dropped) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return task, err
	}
}

// DequeueNext 按优先级从高到低轮询给定类型（为空时为全部类型）的分区
func (q *Queue) DequeueNext(ctx context.Context, types ...TaskType) (*Task, error) {
	if len(types) == 0 {
		types = TaskTypes
	}
	for _, p := range Priorities {
		for _, t := range types {
			task, err := q.Dequeue(ctx, p, t)
			if err != nil || task != nil {
				return task, err
			}
		}
	}
	return nil, nil
}

// Requeue 把任务以 pending 状态重新放回其分区队尾
func (q *Queue) Requeue(ctx context.Context, task *Task) error {
	task.Status = StatusPending
	task.StartedAt = nil
	return q.push(ctx, task)
}

// Complete 记录任务成功及其结果
func (q *Queue) Complete(ctx context.Context, task *Task, result any) error {
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return errors.ErrInvalidInput.WithReason("unserializable").WithCause(err)
		}
		task.Result = raw
	}
	task.Status = StatusCompleted
	task.LastError = ""
	return q.finish(ctx, task, statProcessed)
}

// Fail 记录任务最终失败
func (q *Queue) Fail(ctx context.Context, task *Task, cause error) error {
	task.Status = StatusFailed
	if cause != nil {
		task.LastError = cause.Error()
	}
	return q.finish(ctx, task, statFailed)
}

func (q *Queue) finish(ctx context.Context, task *Task, stat string) error {
	finished := q.now()
	task.FinishedAt = &finished
	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	err = q.runner.Exec(ctx, "queue.finish", func(ctx context.Context) error {
		_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, keyspace.ResultKey(task.ID), record, q.cfg.ResultTTL)
			p.HIncrBy(ctx, keyspace.QueueStats(), stat, 1)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	var elapsed time.Duration
	if task.StartedAt != nil {
		elapsed = finished.Sub(*task.StartedAt)
	}
	q.metrics.Processed(task.Type.String(), task.Status.String(), elapsed)
	return nil
}

// Get 读取任务的最新状态记录
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := resilience.Do(ctx, q.runner, "queue.result", func(ctx context.Context) ([]byte, error) {
		return q.rdb.Get(ctx, keyspace.ResultKey(id)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrNotFound.WithReason("task")
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, errors.ErrCorrupt.WithReason("task").WithCause(err)
	}
	return &task, nil
}

// Status 各分区待处理数、各类型死信数与累计处理计数
func (q *Queue) Status(ctx context.Context) (*Stats, error) {
	type counts struct {
		pending []*redis.IntCmd
		dead    []*redis.IntCmd
		stats   *redis.MapStringStringCmd
	}
	partitions := Partitions()

	c, err := resilience.Do(ctx, q.runner, "queue.status", func(ctx context.Context) (counts, error) {
		var c counts
		_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, part := range partitions {
				c.pending = append(c.pending, p.ZCard(ctx, PartitionKey(part.Priority, part.Type)))
			}
			for _, t := range TaskTypes {
				c.dead = append(c.dead, p.LLen(ctx, keyspace.DLQKey(t.String())))
			}
			c.stats = p.HGetAll(ctx, keyspace.QueueStats())
			return nil
		})
		return c, err
	})
	if err != nil {
		return nil, err
	}

	out := &Stats{Pending: map[string]int64{}, DeadLetters: map[string]int64{}}
	for i, part := range partitions {
		n := c.pending[i].Val()
		out.Pending[part.Priority.String()+":"+part.Type.String()] = n
		out.TotalPending += n
	}
	for i, t := range TaskTypes {
		n := c.dead[i].Val()
		out.DeadLetters[t.String()] = n
		out.TotalDead += n
	}
	stats := c.stats.Val()
	out.Processed, _ = strconv.ParseInt(stats[statProcessed], 10, 64)
	out.Failed, _ = strconv.ParseInt(stats[statFailed], 10, 64)
	return out, nil
}

// Partitions 全部分区，按轮询顺序排列
func Partitions() []Partition {
	out := make([]Partition, 0, len(Priorities)*len(TaskTypes))
	for _, p := range Priorities {
		for _, t := range TaskTypes {
			out = append(out, Partition{Priority: p, Type: t})
		}
	}
	return out
}
