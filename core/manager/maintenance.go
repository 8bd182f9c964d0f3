package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
)

// SweepReport 一次清理的结果
type SweepReport struct {
	Sessions     int           `json:"sessions"`
	Blobs        int           `json:"blobs"`
	CacheOrphans int           `json:"cache_orphans"`
	AuditPurged  int64         `json:"audit_purged"`
	Duration     time.Duration `json:"duration"`
}

// RunMaintenance 并发执行会话、文件与缓存清理。单项失败不影响其他项，错误合并返回。
func (m *Manager) RunMaintenance(ctx context.Context) (SweepReport, error) {
	start := m.now()
	var (
		report SweepReport
		g      errgroup.Group
	)

	g.Go(func() error {
		n, err := m.Sessions.CleanupExpired(ctx)
		report.Sessions = n
		return sweepErr("sessions", err)
	})
	g.Go(func() error {
		n, err := m.Blobs.CleanupExpired(ctx)
		report.Blobs = n
		return sweepErr("blobs", err)
	})
	g.Go(func() error {
		n, err := m.Cache.CleanupOrphans(ctx)
		report.CacheOrphans = n
		return sweepErr("cache", err)
	})
	if m.Audit != nil {
		g.Go(func() error {
			n, err := m.Audit.Purge(ctx, start.Add(-m.cfg.Audit.Retention))
			report.AuditPurged = n
			return sweepErr("audit", err)
		})
	}

	err := g.Wait()
	report.Duration = time.Since(start)

	event := m.logger.Info()
	if err != nil {
		event = m.logger.Warn().Err(err)
	}
	event.Int("sessions", report.Sessions).
		Int("blobs", report.Blobs).
		Int("cache_orphans", report.CacheOrphans).
		Int64("audit_purged", report.AuditPurged).
		Dur("took", report.Duration).
		Msg("maintenance sweep finished")
	return report, err
}

func sweepErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s sweep: %w", name, err)
}

// StartMaintenance 按 maintenance.schedule 启动后台清理，重复调用无副作用
func (m *Manager) StartMaintenance() error {
	if m.cfg.Maintenance.Disabled {
		m.logger.Info().Msg("maintenance disabled")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrUnavailable.WithReason("manager_closed")
	}
	if m.cron != nil {
		return nil
	}

	logger := cronLogger{m.logger}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		cron.WithLogger(logger),
	)
	spec := m.cfg.Maintenance.spec()
	if _, err := c.AddFunc(spec, m.maintenanceTick); err != nil {
		return errors.ErrInvalidInput.WithReason("invalid_schedule").WithCause(err)
	}
	c.Start()
	m.cron = c
	m.logger.Info().Str("schedule", spec).Msg("maintenance scheduled")
	return nil
}

// maintenanceLock 多实例共享同一把锁，同一轮清理只由一个实例执行
const maintenanceLock = "maintenance"

func (m *Manager) maintenanceTick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Maintenance.Timeout)
	defer cancel()
	_, _, _ = m.runExclusive(ctx)
}

// runExclusive 持锁执行一次清理，锁被其他实例持有时跳过并返回 false
func (m *Manager) runExclusive(ctx context.Context) (SweepReport, bool, error) {
	lease, err := m.locker.Acquire(ctx, maintenanceLock, m.cfg.Maintenance.Timeout)
	if err != nil {
		m.logger.Warn().Err(err).Msg("maintenance lock unavailable")
		return SweepReport{}, false, err
	}
	if lease == nil {
		m.logger.Debug().Msg("maintenance running elsewhere, skipped")
		return SweepReport{}, false, nil
	}
	defer func() {
		// 清理可能已耗尽 ctx，释放使用独立的短超时
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := lease.Release(rctx); err != nil {
			m.logger.Warn().Err(err).Msg("maintenance lock release failed")
		}
	}()
	report, err := m.RunMaintenance(ctx)
	return report, true, err
}

// cronLogger 把 cron 的日志接到 zerolog
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
