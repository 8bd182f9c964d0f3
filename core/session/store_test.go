package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *clock
	store *Store
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	runner := resilience.New(resilience.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		ErrorThreshold: 100,
		ResetTimeout:   time.Second,
	}, resilience.WithLogger(log.Nop()))

	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithLogger(log.Nop()), WithClock(c.Now)}, opts...)
	store, err := New(rdb, runner, cfg, opts...)
	require.NoError(t, err)
	return &fixture{mr: mr, rdb: rdb, clock: c, store: store}
}

func TestCreateAndValidate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, "s1", &Session{Subject: "u1", Email: "u1@example.com"}, 0))
	assert.Equal(t, time.Hour, f.mr.TTL("session:s1"))

	valid, sess, err := f.store.Validate(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "u1", sess.Subject)
	assert.Equal(t, f.clock.Now(), sess.LastRefresh)

	valid, sess, err = f.store.Validate(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Nil(t, sess)
}

func TestValidateStaleSessionIsDeleted(t *testing.T) {
	f := newFixture(t, Config{Lifetime: time.Hour})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "s1", &Session{Subject: "u1"}, 2*time.Hour))

	f.clock.Advance(time.Hour)
	valid, _, err := f.store.Validate(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, valid, "exactly at lifetime is still valid")

	f.clock.Advance(time.Second)
	valid, _, err = f.store.Validate(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.False(t, f.mr.Exists("session:s1"), "stale key is proactively deleted")
}

func TestRefreshOnlyNearExpiry(t *testing.T) {
	f := newFixture(t, Config{Lifetime: time.Hour})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "s1", &Session{Subject: "u1"}, 0))
	created := f.clock.Now()
	boundary := time.Hour - time.Hour/6

	f.clock.Advance(boundary - time.Second)
	f.mr.FastForward(boundary - time.Second)
	ok, err := f.store.Refresh(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	sess, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, created, sess.LastRefresh, "refresh before the threshold is a no-op")
	assert.Zero(t, sess.RefreshCount)

	f.clock.Advance(2 * time.Second)
	ok, err = f.store.Refresh(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	sess, err = f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), sess.LastRefresh)
	assert.Equal(t, 1, sess.RefreshCount)
	assert.Equal(t, time.Hour, f.mr.TTL("session:s1"), "ttl reset")
}

func TestRefreshInvalidSession(t *testing.T) {
	f := newFixture(t, Config{})
	ok, err := f.store.Refresh(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeepaliveKeepsTTL(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "s1", &Session{Subject: "u1"}, 0))
	f.mr.FastForward(10 * time.Minute)
	f.clock.Advance(10 * time.Minute)

	ok, err := f.store.Keepalive(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 50*time.Minute, f.mr.TTL("session:s1"))

	sess, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), sess.LastKeepalive)
}

func TestCorruptSessionIsPurged(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.mr.Set("session:bad", "{not json"))

	valid, _, err := f.store.Validate(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.False(t, f.mr.Exists("session:bad"))
}

func TestDeleteRemovesIndexes(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	ok, err := f.store.CreateSecure(ctx, "s1", &Session{Subject: "u1"}, "UA", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.store.Delete(ctx, "s1"))
	assert.False(t, f.mr.Exists("session:s1"))
	assert.False(t, f.mr.Exists("fingerprint:s1"))
	members, _ := f.mr.Members("ip:1.2.3.4:sessions")
	assert.NotContains(t, members, "s1")
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, Config{Lifetime: time.Hour})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "old", &Session{Subject: "u1"}, 3*time.Hour))
	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.store.Create(ctx, "fresh", &Session{Subject: "u2"}, 0))
	require.NoError(t, f.mr.Set("session:junk", "]["))

	removed, err := f.store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, f.mr.Exists("session:old"))
	assert.False(t, f.mr.Exists("session:junk"))
	assert.True(t, f.mr.Exists("session:fresh"))

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "s1", &Session{Subject: "u1"}, 0))
	f.mr.Close()

	valid, sess, err := f.store.Validate(ctx, "s1")
	assert.False(t, valid)
	assert.Nil(t, sess)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	ok, err := f.store.ValidateSecurity(ctx, "s1", "fp", "1.2.3.4")
	assert.False(t, ok)
	assert.Error(t, err)
}
