package db

import (
	"strconv"
	"strings"
	"time"

	"github.com/kochabx/vidchat/core/tag"
)

// Driver 数据库驱动类型
type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

func (d Driver) String() string {
	return string(d)
}

// LogLevel gorm 日志级别
type LogLevel int

const (
	LogLevelSilent LogLevel = iota + 1
	LogLevelError
	LogLevelWarn
	LogLevelInfo
)

// ParseLogLevel 未知值按 silent 处理
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError
	case "warn":
		return LogLevelWarn
	case "info":
		return LogLevelInfo
	default:
		return LogLevelSilent
	}
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `mapstructure:"max_idle_conns" default:"10"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" default:"100"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" default:"1h"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" default:"10m"`
}

// SQLiteConfig 未提供 dsn 时用于拼装 sqlite 连接串
type SQLiteConfig struct {
	// FilePath ":memory:" 为内存库
	FilePath    string `mapstructure:"file_path" default:"./audit.db"`
	JournalMode string `mapstructure:"journal_mode" default:"WAL"`
	BusyTimeout int    `mapstructure:"busy_timeout" default:"5000"`
	SyncMode    string `mapstructure:"sync_mode" default:"NORMAL"`
}

func (c SQLiteConfig) dsn() string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(c.FilePath)
	b.WriteString("?_journal_mode=")
	b.WriteString(c.JournalMode)
	b.WriteString("&_busy_timeout=")
	b.WriteString(strconv.Itoa(c.BusyTimeout))
	b.WriteString("&_synchronous=")
	b.WriteString(c.SyncMode)
	return b.String()
}

// Config 以驱动名 + DSN 描述审计库连接
type Config struct {
	DriverName Driver `mapstructure:"driver" default:"sqlite" validate:"omitempty,oneof=mysql postgres sqlite"`
	Source     string `mapstructure:"dsn"`
	Level      string `mapstructure:"level" default:"warn"`
	// SlowQuery 超过该耗时的语句以 warn 记录，0 关闭
	SlowQuery      time.Duration `mapstructure:"slow_query" default:"200ms"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" default:"10s"`

	PoolConfig `mapstructure:"pool"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`

	initialized bool
}

// Init 应用默认值并补全 DSN，可重复调用
func (c *Config) Init() error {
	if c.initialized {
		return nil
	}
	if err := tag.ApplyDefaults(c); err != nil {
		return err
	}
	switch c.DriverName {
	case DriverMySQL, DriverPostgres:
		if c.Source == "" {
			return ErrInvalidConfig.WithReason("dsn")
		}
	case DriverSQLite:
		if c.Source == "" {
			c.Source = c.SQLite.dsn()
		}
		// 单文件数据库，使用单连接
		c.MaxOpenConns, c.MaxIdleConns = 1, 1
	default:
		return ErrUnsupportedDriver
	}
	c.initialized = true
	return nil
}

func (c *Config) DSN() string {
	return c.Source
}

func (c *Config) LogLevel() LogLevel {
	return ParseLogLevel(c.Level)
}
