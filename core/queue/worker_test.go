package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxRetries: 3})
	ctx := context.Background()
	w, err := NewWorker(q)
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, w.Handle(TaskVideoAnalysis, func(ctx context.Context, task *Task) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}))

	id, err := q.Enqueue(ctx, TaskVideoAnalysis, nil, PriorityMedium)
	require.NoError(t, err)

	for range 3 {
		task, err := q.DequeueNext(ctx, TaskVideoAnalysis)
		require.NoError(t, err)
		require.NotNil(t, task)
		w.Process(ctx, task)
	}

	rec, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.Retries)
	require.NotNil(t, rec.LastRetryAt)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), rec.LastRetryAt.UTC())
	assert.JSONEq(t, `"done"`, string(rec.Result))
	assert.EqualValues(t, 3, w.TaskCount())
}

func TestWorkerRequeuesWhenResultNotRecorded(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxRetries: 3})
	ctx := context.Background()
	w, err := NewWorker(q)
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, w.Handle(TaskVideoProcessing, func(context.Context, *Task) (any, error) {
		if calls.Add(1) == 1 {
			// 无法序列化的结果
			return func() {}, nil
		}
		return "ok", nil
	}))

	id, err := q.Enqueue(ctx, TaskVideoProcessing, nil, PriorityLow)
	require.NoError(t, err)
	task, err := q.DequeueNext(ctx, TaskVideoProcessing)
	require.NoError(t, err)
	require.NotNil(t, task)
	w.Process(ctx, task)

	rec, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Retries)
	assert.Contains(t, rec.LastError, "record result")

	task, err = q.DequeueNext(ctx, TaskVideoProcessing)
	require.NoError(t, err)
	require.NotNil(t, task)
	w.Process(ctx, task)

	rec, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestWorkerMovesExhaustedTaskToDLQ(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxRetries: 2})
	ctx := context.Background()
	w, err := NewWorker(q)
	require.NoError(t, err)
	require.NoError(t, w.Handle(TaskChatResponse, func(context.Context, *Task) (any, error) {
		panic("handler bug")
	}))

	id, err := q.Enqueue(ctx, TaskChatResponse, nil, PriorityHigh)
	require.NoError(t, err)
	for range 2 {
		task, err := q.DequeueNext(ctx, TaskChatResponse)
		require.NoError(t, err)
		require.NotNil(t, task)
		w.Process(ctx, task)
	}

	task, err := q.DequeueNext(ctx, TaskChatResponse)
	require.NoError(t, err)
	assert.Nil(t, task)

	dead, err := q.DeadLetters(ctx, TaskChatResponse, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, 2, dead[0].Retries)
	assert.Contains(t, dead[0].LastError, "handler bug")
}

func TestWorkerLoop(t *testing.T) {
	q, _ := newTestQueue(t, Config{PollInterval: 5 * time.Millisecond, Workers: 2})
	ctx := context.Background()
	w, err := NewWorker(q)
	require.NoError(t, err)
	assert.Error(t, w.Start(ctx), "no handlers")

	var handled atomic.Int32
	require.NoError(t, w.Handle(TaskVideoProcessing, func(context.Context, *Task) (any, error) {
		handled.Add(1)
		return nil, nil
	}))
	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Handle(TaskVideoAnalysis, func(context.Context, *Task) (any, error) { return nil, nil }))

	for range 10 {
		_, err := q.Enqueue(ctx, TaskVideoProcessing, nil, PriorityLow)
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return handled.Load() == 10 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	stats, err := q.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10, stats.Processed)
}
