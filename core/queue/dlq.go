package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/errors"
)

// MoveToDLQ 把超出重试预算的任务推入 dlq:<type>（新任务在表头），并按 DLQMaxSize 裁剪
func (q *Queue) MoveToDLQ(ctx context.Context, task *Task, cause error) error {
	task.Status = StatusDead
	if cause != nil {
		task.LastError = cause.Error()
	}
	finished := q.now()
	task.FinishedAt = &finished

	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	key := keyspace.DLQKey(task.Type.String())
	err = q.runner.Exec(ctx, "queue.dlq_push", func(ctx context.Context) error {
		_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LPush(ctx, key, record)
			p.LTrim(ctx, key, 0, q.cfg.DLQMaxSize-1)
			p.Set(ctx, keyspace.ResultKey(task.ID), record, q.cfg.ResultTTL)
			p.HIncrBy(ctx, keyspace.QueueStats(), statFailed, 1)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	q.metrics.Processed(task.Type.String(), StatusDead.String(), 0)
	q.logger.Warn().Str("task_id", task.ID).Str("type", task.Type.String()).Int("retries", task.Retries).Str("error", task.LastError).Msg("task moved to dead letter queue")
	return nil
}

// DeadLetters 列出死信任务，最新的在前；limit<=0 时返回全部
func (q *Queue) DeadLetters(ctx context.Context, taskType TaskType, limit int64) ([]Task, error) {
	if !taskType.Valid() {
		return nil, errors.ErrInvalidInput.WithReason("invalid_task_type")
	}
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	raws, err := resilience.Do(ctx, q.runner, "queue.dlq_list", func(ctx context.Context) ([]string, error) {
		return q.rdb.LRange(ctx, keyspace.DLQKey(taskType.String()), 0, stop).Result()
	})
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(raws))
	for _, raw := range raws {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			q.logger.Warn().Err(err).Msg("skipping undecodable dead letter")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Replay 把最早的 n 个死信任务清零重试次数后重新入队，返回实际重放数量
func (q *Queue) Replay(ctx context.Context, taskType TaskType, n int) (int, error) {
	if !taskType.Valid() {
		return 0, errors.ErrInvalidInput.WithReason("invalid_task_type")
	}
	key := keyspace.DLQKey(taskType.String())
	replayed := 0
loop:
	for replayed < n {
		var (
			moved bool
			empty bool
		)
		err := q.runner.Exec(ctx, "queue.dlq_replay", func(ctx context.Context) error {
			moved, empty = false, false
			return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
				raw, err := tx.LIndex(ctx, key, -1).Result()
				if errors.Is(err, redis.Nil) {
					empty = true
					return nil
				}
				if err != nil {
					return err
				}

				var t Task
				if err := json.Unmarshal([]byte(raw), &t); err != nil {
					_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
						p.RPop(ctx, key)
						return nil
					})
					return err
				}
				t.Status = StatusPending
				t.Retries = 0
				t.LastError = ""
				t.StartedAt, t.FinishedAt = nil, nil
				member, err := json.Marshal(&t)
				if err != nil {
					return err
				}
				score := q.score()

				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					p.RPop(ctx, key)
					p.ZAdd(ctx, PartitionKey(t.Priority, t.Type), redis.Z{Score: score, Member: member})
					p.Set(ctx, keyspace.ResultKey(t.ID), member, q.cfg.ResultTTL)
					return nil
				})
				moved = err == nil
				return err
			}, key)
		})
		switch {
		case errors.Is(err, redis.TxFailedErr):
			if ctx.Err() != nil {
				return replayed, ctx.Err()
			}
			continue
		case err != nil:
			return replayed, err
		case empty:
			break loop
		}
		if moved {
			replayed++
		}
	}
	if replayed > 0 {
		q.logger.Info().Str("type", taskType.String()).Int("replayed", replayed).Msg("dead letters replayed")
	}
	return replayed, nil
}

// PurgeDLQ 清空某类型的死信队列
func (q *Queue) PurgeDLQ(ctx context.Context, taskType TaskType) error {
	return q.runner.Exec(ctx, "queue.dlq_purge", func(ctx context.Context) error {
		return q.rdb.Del(ctx, keyspace.DLQKey(taskType.String())).Err()
	})
}
