package log

import (
	"github.com/rs/zerolog"
)

// G 全局日志实例，仅作为未注入 Logger 时的兜底
var G = New()

// SetGlobalLogger 替换全局日志记录器
func SetGlobalLogger(logger *Logger) {
	if logger != nil {
		G = logger
	}
}

// SetGlobalLevel 设置全局日志级别
func SetGlobalLevel(level zerolog.Level) {
	G.Logger = G.Logger.Level(level)
}

func Debug() *zerolog.Event { return G.Debug() }

func Info() *zerolog.Event { return G.Info() }

func Warn() *zerolog.Event { return G.Warn() }

// Error 返回带堆栈的 error 事件
func Error() *zerolog.Event { return G.Error().Stack() }

// Fatal 返回带堆栈的 fatal 事件
func Fatal() *zerolog.Event { return G.Fatal().Stack() }
