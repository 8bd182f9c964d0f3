package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/vidchat/core/audit"
	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
	"github.com/kochabx/vidchat/store/db"
	kafkastore "github.com/kochabx/vidchat/store/kafka"
)

func testConfig() Config {
	return Config{
		Resilience: resilience.Config{
			MaxAttempts:    1,
			BaseDelay:      time.Millisecond,
			MaxDelay:       time.Millisecond,
			ErrorThreshold: 2,
			ResetTimeout:   time.Minute,
		},
		Session: session.Config{RevokeDisabled: true},
	}
}

func newManager(t *testing.T, cfg Config) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	m, err := New(context.Background(), cfg,
		WithLogger(log.Nop()),
		WithMetrics(metrics.New("test")),
		WithRedisClient(rdb),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestNewAppliesDefaults(t *testing.T) {
	m, _ := newManager(t, testConfig())
	cfg := m.Config()
	assert.Equal(t, 5*time.Minute, cfg.Maintenance.Interval)
	assert.Equal(t, "@every 5m0s", cfg.Maintenance.spec())
	assert.Equal(t, time.Hour, cfg.Session.Lifetime)
	assert.Equal(t, 100, cfg.Rate.Limit)
	assert.Nil(t, m.Audit)
}

func TestNewWithoutRedisURLFails(t *testing.T) {
	_, err := New(context.Background(), testConfig(), WithLogger(log.Nop()), WithMetrics(metrics.New("test")))
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		m, _ := newManager(t, testConfig())
		h := m.HealthCheck(ctx)
		assert.Equal(t, StatusHealthy, h.Status)
		assert.Equal(t, "closed", h.Circuit)
		assert.NotNil(t, h.Pool)
		assert.Empty(t, h.Error)
	})

	t.Run("slow is degraded", func(t *testing.T) {
		cfg := testConfig()
		cfg.Health.SlowLatency = time.Nanosecond
		m, _ := newManager(t, cfg)
		assert.Equal(t, StatusDegraded, m.HealthCheck(ctx).Status)
	})

	t.Run("store down", func(t *testing.T) {
		m, mr := newManager(t, testConfig())
		mr.Close()
		h := m.HealthCheck(ctx)
		assert.Equal(t, StatusUnhealthy, h.Status)
		assert.NotEmpty(t, h.Error)
	})

	t.Run("open circuit", func(t *testing.T) {
		m, _ := newManager(t, testConfig())
		m.Runner().Breaker().Failure()
		m.Runner().Breaker().Failure()
		h := m.HealthCheck(ctx)
		assert.Equal(t, StatusUnhealthy, h.Status)
		assert.Equal(t, "open", h.Circuit)
	})
}

func TestGetMetrics(t *testing.T) {
	ctx := context.Background()
	m, mr := newManager(t, testConfig())

	_, err := m.Queue.Enqueue(ctx, queue.TaskVideoAnalysis, map[string]string{"file_id": "f1"}, queue.PriorityHigh)
	require.NoError(t, err)

	snap, err := m.GetMetrics(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Queue)
	assert.Equal(t, int64(1), snap.Queue.TotalPending)
	assert.Equal(t, "closed", snap.Breaker.State)
	assert.NotNil(t, snap.Pool)

	mr.Close()
	snap, err = m.GetMetrics(ctx)
	assert.Error(t, err)
	assert.Nil(t, snap.Queue)
	assert.NotNil(t, snap.Pool)
}

func TestGetSecurityMetrics(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, testConfig())

	require.NoError(t, m.Sessions.Create(ctx, "s1", &session.Session{Subject: "u1"}, 0))
	require.NoError(t, m.Sessions.RecordSecurityEvent(ctx, session.EventIPMismatch, "s1", nil))

	sm, err := m.GetSecurityMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sm.EventTotals[session.EventIPMismatch])
	assert.Equal(t, 1, sm.ActiveSessions)
	assert.Len(t, sm.RecentEvents, 1)
}

func TestRunMaintenance(t *testing.T) {
	ctx := context.Background()
	m, mr := newManager(t, testConfig())

	require.NoError(t, mr.Set(keyspace.SessionKey("junk"), "{not json"))
	require.NoError(t, mr.Set(keyspace.CacheKey("orphan"), "1"))
	require.NoError(t, mr.Set(keyspace.BlobChunkKey("gone", 0), "x"))
	require.NoError(t, m.Cache.Set(ctx, "kept", "v", time.Minute))

	report, err := m.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sessions)
	assert.Equal(t, 1, report.CacheOrphans)
	assert.Zero(t, report.Blobs)
	assert.False(t, mr.Exists(keyspace.BlobChunkKey("gone", 0)))
	assert.False(t, mr.Exists(keyspace.CacheKey("orphan")))
	assert.True(t, mr.Exists(keyspace.CacheKey("kept")))
}

func TestRunMaintenanceReportsErrors(t *testing.T) {
	m, mr := newManager(t, testConfig())
	mr.Close()
	_, err := m.RunMaintenance(context.Background())
	assert.Error(t, err)
}

func TestStartMaintenance(t *testing.T) {
	cfg := testConfig()
	cfg.Maintenance.Schedule = "@every 1h"
	m, _ := newManager(t, cfg)

	require.NoError(t, m.StartMaintenance())
	require.NoError(t, m.StartMaintenance())
	require.NoError(t, m.Close())
	assert.Error(t, m.StartMaintenance())

	bad := testConfig()
	bad.Maintenance.Schedule = "not a schedule"
	m2, _ := newManager(t, bad)
	assert.Error(t, m2.StartMaintenance())

	off := testConfig()
	off.Maintenance.Disabled = true
	m3, _ := newManager(t, off)
	assert.NoError(t, m3.StartMaintenance())
	assert.Nil(t, m3.cron)
}

func TestMaintenanceIsExclusive(t *testing.T) {
	m, mr := newManager(t, testConfig())
	ctx := context.Background()

	require.NoError(t, mr.Set(keyspace.LockKey(maintenanceLock), "other-node:token"))
	_, ran, err := m.runExclusive(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	mr.Del(keyspace.LockKey(maintenanceLock))
	_, ran, err = m.runExclusive(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(keyspace.LockKey(maintenanceLock)))
}

func TestAuditSinkWired(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Audit = audit.Config{Enabled: true, Config: db.Config{
		DriverName: db.DriverSQLite,
		Source:     "file:manager_audit?mode=memory&cache=shared",
	}}
	m, _ := newManager(t, cfg)
	require.NotNil(t, m.Audit)

	require.NoError(t, m.Sessions.RecordSecurityEvent(ctx, session.EventForcedLogout, "u1", nil))
	events, err := m.Audit.Find(ctx, audit.Query{Identifier: "u1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	h := m.HealthCheck(ctx)
	require.NotNil(t, h.Audit)
	assert.True(t, *h.Audit)

	report, err := m.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.AuditPurged)
}

type recordingWriter struct {
	mu   sync.Mutex
	keys []string
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		w.keys = append(w.keys, string(m.Key))
	}
	return nil
}

func TestEventStreamWired(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	w := &recordingWriter{}
	m, err := New(ctx, testConfig(),
		WithLogger(log.Nop()),
		WithMetrics(metrics.New("test")),
		WithRedisClient(rdb),
		WithEventWriter(w),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Sessions.RecordSecurityEvent(ctx, session.EventIPMismatch, "u9", nil))
	assert.Equal(t, []string{"u9"}, w.keys)
}

func TestEventStreamRequiresBrokers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Audit.Stream.Enabled = true
	_, err := New(context.Background(), cfg, WithLogger(log.Nop()), WithMetrics(metrics.New("test")), WithRedisClient(rdb))
	assert.True(t, errors.Is(err, kafkastore.ErrEmptyBrokers))
}
