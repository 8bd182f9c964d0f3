package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/log"
)

func newTestLimiter(t *testing.T, cfg Config) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, PoolSize: 64})
	t.Cleanup(func() { _ = rdb.Close() })

	runner := resilience.New(resilience.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Millisecond,
		ErrorThreshold: 100,
		ResetTimeout:   time.Second,
	}, resilience.WithLogger(log.Nop()))

	l, err := NewFixedWindowLimiter(rdb, runner, cfg, WithLogger(log.Nop()))
	require.NoError(t, err)
	return l, mr
}

func TestFixedWindowBudget(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := range 3 {
		d, err := l.Reserve(ctx, "upload", "u1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Reserve(ctx, "upload", "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, time.Minute, mr.TTL("rate:upload:u1"))

	// 其他标识符互不影响
	assert.True(t, l.Allow(ctx, "upload", "u2"))

	mr.FastForward(time.Minute + time.Millisecond)
	assert.True(t, l.Allow(ctx, "upload", "u1"), "new window")
}

func TestRetryAfterShrinks(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()
	require.True(t, l.Allow(ctx, "login", "1.2.3.4"))

	mr.FastForward(20 * time.Second)
	d, err := l.Reserve(ctx, "login", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
}

func TestConcurrentCallersExactBudget(t *testing.T) {
	const (
		budget  = 10
		callers = 50
	)
	l, _ := newTestLimiter(t, Config{Limit: budget, Window: time.Minute})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
		start   = make(chan struct{})
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.Reserve(ctx, "chat", "u1")
			if assert.NoError(t, err) && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, budget, allowed.Load())
}

func TestFailsOpenWhenStoreDown(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 1})
	mr.Close()

	_, err := l.Reserve(context.Background(), "chat", "u1")
	assert.Error(t, err)
	assert.True(t, l.Allow(context.Background(), "chat", "u1"))
}

func TestRulesAndReset(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Rules: map[string]Rule{"login": {Limit: 2}}})
	ctx := context.Background()

	limit, window := l.Window("login")
	assert.Equal(t, 2, limit)
	assert.Equal(t, 60*time.Second, window)
	limit, _ = l.Window("chat")
	assert.Equal(t, 100, limit)

	assert.True(t, l.Allow(ctx, "login", "ip"))
	assert.True(t, l.Allow(ctx, "login", "ip"))
	assert.False(t, l.Allow(ctx, "login", "ip"))

	require.NoError(t, l.Reset(ctx, "login", "ip"))
	assert.False(t, mr.Exists("rate:login:ip"))
	assert.True(t, l.Allow(ctx, "login", "ip"))
}

func TestPersistentCounterGetsWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 5, Window: time.Minute})
	require.NoError(t, mr.Set("rate:chat:u1", "2"))

	assert.True(t, l.Allow(context.Background(), "chat", "u1"))
	v, _ := mr.Get("rate:chat:u1")
	assert.Equal(t, "3", v)
	assert.Equal(t, time.Minute, mr.TTL("rate:chat:u1"))
}

func TestPersistentCounterOverLimitExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 5, Window: time.Minute})
	ctx := context.Background()
	require.NoError(t, mr.Set("rate:chat:u2", "9"))

	assert.False(t, l.Allow(ctx, "chat", "u2"))
	assert.Equal(t, time.Minute, mr.TTL("rate:chat:u2"))

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, l.Allow(ctx, "chat", "u2"))
}
