package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kochabx/vidchat/log"
)

// Database 审计归档所需的最小能力
type Database interface {
	DB() *gorm.DB
	AutoMigrate(ctx context.Context, models ...any) error
}

var _ Database = (*Client)(nil)

// Client gorm 客户端
type Client struct {
	cfg    *Config
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *log.Logger
}

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New 按配置打开连接并在 connect_timeout 内完成一次 ping
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, logger: log.G}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component("db")

	dialector, err := dialect(cfg.DriverName, cfg.DSN())
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{c.logger}, logger.Config{
			LogLevel:                  logger.LogLevel(cfg.LogLevel()),
			SlowThreshold:             cfg.SlowQuery,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	if c.sqlDB, err = db.DB(); err != nil {
		return nil, err
	}
	c.db = db

	c.sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	c.sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	c.sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	c.sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.logger.Debug().Str("driver", cfg.DriverName.String()).Dur("slow_query", cfg.SlowQuery).Msg("database client created")
	return c, nil
}

func dialect(driver Driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

func (c *Client) DB() *gorm.DB {
	return c.db
}

// AutoMigrate 同步模型表结构
func (c *Client) AutoMigrate(ctx context.Context, models ...any) error {
	if c.db == nil {
		return ErrNotInitialized
	}
	return c.db.WithContext(ctx).AutoMigrate(models...)
}

// Ping 供健康检查使用
func (c *Client) Ping(ctx context.Context) error {
	if c.sqlDB == nil {
		return ErrNotInitialized
	}
	return c.sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.sqlDB != nil {
		return c.sqlDB.Close()
	}
	return nil
}

// gormWriter 把 gorm 日志接到 zerolog，慢查询与错误以 warn 输出
type gormWriter struct {
	logger *log.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if strings.Contains(msg, "SLOW SQL") || strings.Contains(msg, "Error") {
		w.logger.Warn().Str("source", "gorm").Msg(msg)
		return
	}
	w.logger.Debug().Str("source", "gorm").Msg(msg)
}
