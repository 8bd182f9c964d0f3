// Package manager 持有进程内共享的 Redis 客户端与各存储组件，
// 负责按配置装配、健康检查、指标汇总以及后台清理的调度。
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kochabx/vidchat/core/audit"
	"github.com/kochabx/vidchat/core/blob"
	"github.com/kochabx/vidchat/core/cache"
	"github.com/kochabx/vidchat/core/lock"
	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/rate"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
	"github.com/kochabx/vidchat/store/db"
	kafkastore "github.com/kochabx/vidchat/store/kafka"
	redisstore "github.com/kochabx/vidchat/store/redis"
)

// Manager 组件容器，所有组件共享同一个客户端与熔断器
type Manager struct {
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	redis   *redisstore.Client
	runner  *resilience.Runner
	auditDB *db.Client
	stream  *kafkastore.Client
	locker  *lock.Locker

	Sessions *session.Store
	Cache    *cache.Cache
	Limiter  *rate.FixedWindowLimiter
	Queue    *queue.Queue
	Blobs    *blob.Store
	Audit    *audit.Sink

	mu      sync.Mutex
	cron    *cron.Cron
	closed  bool
	ownsRDB bool
}

// New 按配置创建全部组件。未通过 WithRedisClient 注入客户端时，按 redis.url 建立连接。
func New(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	o := &options{logger: log.G, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New(metrics.DefaultNamespace)
	}

	m := &Manager{
		cfg:     cfg,
		logger:  o.logger.Component("manager"),
		metrics: o.metrics,
		now:     o.now,
		redis:   o.redis,
	}

	if m.redis == nil {
		client, err := redisstore.New(&cfg.Redis, redisstore.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		m.redis = client
		m.ownsRDB = true
	}

	ok := false
	defer func() {
		if !ok {
			_ = m.Close()
		}
	}()

	m.runner = resilience.New(cfg.Resilience,
		resilience.WithLogger(o.logger),
		resilience.WithMetrics(o.metrics),
		resilience.WithClock(o.now),
	)
	rdb := m.redis.UniversalClient()
	m.locker = lock.New(rdb, m.runner, instanceName())

	sessionOpts := []session.Option{
		session.WithLogger(o.logger),
		session.WithMetrics(o.metrics),
		session.WithClock(o.now),
	}
	if cfg.Audit.Enabled {
		client, err := db.New(&cfg.Audit.Config, db.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		m.auditDB = client
		sink, err := audit.New(ctx, client, audit.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		m.Audit = sink
		sessionOpts = append(sessionOpts, session.WithEventSink(sink))
	}
	events := o.events
	if events == nil && cfg.Audit.Stream.Enabled {
		client, err := kafkastore.New(&cfg.Audit.Stream.Config, kafkastore.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		m.stream = client
		w, err := client.Producer(cfg.Audit.Stream.Topic)
		if err != nil {
			return nil, err
		}
		events = w
	}
	if events != nil {
		sessionOpts = append(sessionOpts, session.WithEventSink(audit.NewPublisher(events, o.logger)))
	}

	var err error
	if m.Sessions, err = session.New(rdb, m.runner, cfg.Session, sessionOpts...); err != nil {
		return nil, err
	}
	if m.Cache, err = cache.New(rdb, m.runner, cfg.Cache, cache.WithLogger(o.logger), cache.WithMetrics(o.metrics)); err != nil {
		return nil, err
	}
	if m.Limiter, err = rate.NewFixedWindowLimiter(rdb, m.runner, cfg.Rate, rate.WithLogger(o.logger), rate.WithMetrics(o.metrics)); err != nil {
		return nil, err
	}
	if m.Queue, err = queue.New(rdb, m.runner, cfg.Queue, queue.WithLogger(o.logger), queue.WithMetrics(o.metrics), queue.WithClock(o.now)); err != nil {
		return nil, err
	}
	if m.Blobs, err = blob.New(rdb, m.runner, cfg.Blob, blob.WithLogger(o.logger), blob.WithMetrics(o.metrics), blob.WithClock(o.now)); err != nil {
		return nil, err
	}

	ok = true
	m.logger.Info().Bool("audit", m.Audit != nil).Bool("event_stream", events != nil).Msg("storage manager ready")
	return m, nil
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Config 返回生效的配置（已填充默认值）
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) Runner() *resilience.Runner {
	return m.runner
}

func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Close 停止调度并释放连接，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	var errs []error
	if m.stream != nil {
		errs = append(errs, m.stream.Close())
	}
	if m.auditDB != nil {
		errs = append(errs, m.auditDB.Close())
	}
	if m.ownsRDB && m.redis != nil {
		errs = append(errs, m.redis.Close())
	}
	return errors.Join(errs...)
}
