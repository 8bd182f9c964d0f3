package resilience

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Jitter:         time.Millisecond,
		ErrorThreshold: 3,
		ResetTimeout:   10 * time.Second,
	}
}

func newTestRunner(clock *fakeClock) *Runner {
	return New(testConfig(), WithLogger(log.Nop()), WithClock(clock.Now))
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	r := newTestRunner(&fakeClock{now: time.Now()})

	calls := 0
	got, err := Do(context.Background(), r, "get", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", io.EOF
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateClosed, r.Breaker().State())
	assert.Zero(t, r.Breaker().Failures())
}

func TestExhaustedRetriesReturnUnavailable(t *testing.T) {
	r := newTestRunner(&fakeClock{now: time.Now()})

	calls := 0
	err := r.Exec(context.Background(), "set", func(context.Context) error {
		calls++
		return &net.OpError{Op: "dial", Err: io.ErrUnexpectedEOF}
	})
	assert.True(t, kerrors.Is(err, kerrors.ErrUnavailable))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, r.Breaker().Failures())
}

func TestNonTransientPassesThrough(t *testing.T) {
	r := newTestRunner(&fakeClock{now: time.Now()})

	calls := 0
	_, err := Do(context.Background(), r, "get", func(context.Context) (string, error) {
		calls++
		return "", redis.Nil
	})
	assert.ErrorIs(t, err, redis.Nil)
	assert.Equal(t, 1, calls)

	err = r.Exec(context.Background(), "watch", func(context.Context) error {
		calls++
		return redis.TxFailedErr
	})
	assert.ErrorIs(t, err, redis.TxFailedErr)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateClosed, r.Breaker().State())
}

func TestCircuitOpensAndFailsFast(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRunner(clock)
	failing := func(context.Context) error { return io.EOF }

	for range 3 {
		require.Error(t, r.Exec(context.Background(), "get", failing))
	}
	require.Equal(t, StateOpen, r.Breaker().State())

	var attempted atomic.Int32
	err := r.Exec(context.Background(), "get", func(context.Context) error {
		attempted.Add(1)
		return nil
	})
	assert.True(t, kerrors.Is(err, kerrors.ErrUnavailable))
	assert.Zero(t, attempted.Load(), "open circuit must not attempt the operation")
}

func TestHalfOpenAllowsExactlyOneProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRunner(clock)
	for range 3 {
		_ = r.Exec(context.Background(), "get", func(context.Context) error { return io.EOF })
	}
	clock.Advance(10*time.Second + time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.Exec(context.Background(), "probe", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, StateHalfOpen, r.Breaker().State())

	err := r.Exec(context.Background(), "concurrent", func(context.Context) error { return nil })
	assert.True(t, kerrors.Is(err, kerrors.ErrUnavailable), "second call during probe is rejected")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, r.Breaker().State())
	assert.NoError(t, r.Exec(context.Background(), "after", func(context.Context) error { return nil }))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRunner(clock)
	for range 3 {
		_ = r.Exec(context.Background(), "get", func(context.Context) error { return io.EOF })
	}
	clock.Advance(11 * time.Second)

	err := r.Exec(context.Background(), "probe", func(context.Context) error { return io.EOF })
	assert.True(t, kerrors.Is(err, kerrors.ErrUnavailable))
	assert.Equal(t, StateOpen, r.Breaker().State())

	// 重新计时：冷却未到前仍然快速失败
	clock.Advance(5 * time.Second)
	assert.False(t, r.Breaker().Allow())
	clock.Advance(6 * time.Second)
	assert.True(t, r.Breaker().Allow())
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	r := New(Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, ErrorThreshold: 1}, WithLogger(log.Nop()))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	err := r.Exec(ctx, "get", func(context.Context) error {
		calls++
		cancel()
		return io.EOF
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StateClosed, r.Breaker().State(), "cancellation is not a store failure")
}

func TestBackOffFormula(t *testing.T) {
	b := newJitterBackOff(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: 100 * time.Millisecond})
	b.rand = func() float64 { return 0.5 }

	assert.Equal(t, 150*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 450*time.Millisecond, b.NextBackOff())
	for range 5 {
		b.NextBackOff()
	}
	assert.Equal(t, 2*time.Second, b.NextBackOff(), "capped")

	b.Reset()
	assert.Equal(t, 150*time.Millisecond, b.NextBackOff())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(redis.Nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(io.EOF))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(redis.ErrClosed))
	assert.True(t, IsTransient(&net.OpError{Op: "read", Err: io.EOF}))
	assert.False(t, IsTransient(kerrors.ErrInvalidInput))
}
