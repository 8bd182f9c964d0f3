package commands

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/app"
	"github.com/kochabx/vidchat/core/manager"
	"github.com/kochabx/vidchat/core/queue"
	"github.com/kochabx/vidchat/core/tasks"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
	middleware "github.com/kochabx/vidchat/middleware/http"
	"github.com/kochabx/vidchat/store/oss/minio"
	transport "github.com/kochabx/vidchat/transport/http"
	"github.com/kochabx/vidchat/transport/http/api"
)

const closeTimeout = 30 * time.Second

type ServeCmd struct {
	Addr     string `help:"Override http.addr from the configuration." placeholder:"HOST:PORT"`
	NoWorker bool   `help:"Do not start the task worker in this process."`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, logger, err := globals.load()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.HTTP.Addr = s.Addr
	}
	logger.Info().Str("version", globals.Version).Msg("starting vidchat")

	m, err := manager.New(ctx, cfg.Config,
		manager.WithLogger(logger),
		manager.WithMetrics(metrics.New(metrics.DefaultNamespace)),
	)
	if err != nil {
		return err
	}
	if err := m.StartMaintenance(); err != nil {
		_ = m.Close()
		return err
	}

	idp, err := api.NewStaticIdentityProvider(cfg.Users)
	if err != nil {
		_ = m.Close()
		return err
	}
	var (
		apiOpts  []api.Option
		taskOpts = []tasks.Option{tasks.WithLogger(logger)}
	)
	if cfg.Archive.Enabled {
		archive, err := minio.NewClient(ctx, &cfg.Archive.Config, minio.WithLogger(logger))
		if err != nil {
			_ = m.Close()
			return err
		}
		apiOpts = append(apiOpts, api.WithArchive(archive))
		taskOpts = append(taskOpts, tasks.WithArchiver(archive))
	}
	engine, err := newEngine(cfg, m, idp, logger, apiOpts...)
	if err != nil {
		_ = m.Close()
		return err
	}

	server := transport.NewServer(cfg.HTTP.Addr, engine,
		transport.WithLogger(logger),
		transport.WithReadHeaderTimeout(cfg.HTTP.ReadHeaderTimeout),
		transport.WithMetricsOptions(transport.MetricsOption{
			Enabled:  true,
			Gatherer: m.Metrics().Gatherer(),
		}),
		transport.WithHealthOptions(transport.HealthOption{
			Enabled: true,
			Timeout: cfg.Health.Timeout,
			Check: func(ctx context.Context) transport.HealthReport {
				return m.HealthCheck(ctx)
			},
		}),
	)

	opts := []app.Option{
		app.WithContext(ctx),
		app.WithLogger(logger),
		app.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout),
		app.WithServers(server),
		// 最后注册的最先执行：先停 worker，再关 manager
		app.WithClose("manager", func(context.Context) error { return m.Close() }, closeTimeout),
	}
	if !s.NoWorker {
		worker, err := queue.NewWorker(m.Queue)
		if err != nil {
			_ = m.Close()
			return err
		}
		if err := tasks.New(m.Blobs, m.Cache, taskOpts...).Register(worker); err != nil {
			_ = m.Close()
			return err
		}
		opts = append(opts,
			app.WithBackground("queue-worker", func(ctx context.Context) error {
				if err := worker.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			}),
			app.WithClose("queue-worker", worker.Stop, closeTimeout),
		)
	}

	return app.New(opts...).Start()
}

func newEngine(cfg *Config, m *manager.Manager, idp api.IdentityProvider, logger *log.Logger, opts ...api.Option) (*gin.Engine, error) {
	gin.SetMode(cfg.HTTP.Mode)
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}
	engine.MaxMultipartMemory = m.Blobs.Config().MaxFileSize
	engine.Use(
		middleware.Recovery(middleware.RecoveryConfig{StackTrace: true, Logger: logger}),
		middleware.Logger(middleware.LoggerConfig{
			SkipPaths: []string{"/health", "/metrics"},
			Logger:    logger,
		}),
		middleware.BodyLimit(cfg.HTTP.MaxBodyBytes),
	)
	api.New(m, idp, cfg.Cookie, append([]api.Option{api.WithLogger(logger)}, opts...)...).Register(engine)
	return engine, nil
}
