package log

import (
	"github.com/rs/zerolog"
)

// Option Logger 选项函数
type Option func(*Logger)

// WithLevel 设置日志级别
func WithLevel(level zerolog.Level) Option {
	return func(l *Logger) {
		l.Logger = l.Logger.Level(level)
	}
}

// WithCaller 记录调用位置
func WithCaller() Option {
	return func(l *Logger) {
		l.Logger = l.Logger.With().Caller().Logger()
	}
}

// WithFields 附加固定字段，如 service、version
func WithFields(fields map[string]string) Option {
	return func(l *Logger) {
		ctx := l.Logger.With()
		for k, v := range fields {
			ctx = ctx.Str(k, v)
		}
		l.Logger = ctx.Logger()
	}
}
