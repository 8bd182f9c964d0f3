package db

import "github.com/kochabx/vidchat/errors"

var (
	// ErrUnsupportedDriver 不支持的数据库驱动
	ErrUnsupportedDriver = errors.New(500, "db: unsupported driver")

	// ErrInvalidConfig 无效的数据库配置
	ErrInvalidConfig = errors.New(500, "db: invalid config")

	// ErrNotInitialized 数据库未初始化
	ErrNotInitialized = errors.New(503, "db: not initialized")
)
