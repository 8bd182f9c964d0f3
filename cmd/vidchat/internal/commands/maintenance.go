package commands

import (
	"context"

	"github.com/kochabx/vidchat/core/manager"
	"github.com/kochabx/vidchat/metrics"
)

type MaintenanceCmd struct{}

// Run 执行一次完整清理后退出，适合由外部调度器触发
func (c *MaintenanceCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, logger, err := globals.load()
	if err != nil {
		return err
	}
	m, err := manager.New(ctx, cfg.Config,
		manager.WithLogger(logger),
		manager.WithMetrics(metrics.New(metrics.DefaultNamespace)),
	)
	if err != nil {
		return err
	}
	defer m.Close()

	report, err := m.RunMaintenance(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Int("sessions", report.Sessions).
		Int("blobs", report.Blobs).
		Int("cache_orphans", report.CacheOrphans).
		Int64("audit_purged", report.AuditPurged).
		Dur("duration", report.Duration).
		Msg("maintenance finished")
	return nil
}
