package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/log/writer"
)

// Logger 日志记录器
type Logger struct {
	zerolog.Logger
	closer io.Closer
}

func init() {
	zerolog.TimeFieldFormat = time.DateTime
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// Close 释放文件 writer
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// With 返回携带固定字段的子日志记录器
func (l *Logger) With(fields map[string]string) *Logger {
	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return &Logger{Logger: ctx.Logger()}
}

// Component 返回带 component 字段的子日志记录器
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", name).Logger()}
}

func newLogger(w io.Writer, opts ...Option) *Logger {
	logger := &Logger{Logger: zerolog.New(w).With().Timestamp().Logger()}
	for _, opt := range opts {
		opt(logger)
	}
	return logger
}

// New 创建输出到控制台的 Logger
func New(opts ...Option) *Logger {
	return newLogger(writer.Console(os.Stdout), opts...)
}

// NewWriter 创建输出到任意 writer 的 JSON Logger
func NewWriter(w io.Writer, opts ...Option) *Logger {
	return newLogger(w, opts...)
}

// Nop 丢弃所有输出
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// NewFile 创建文件输出的 Logger
func NewFile(c FileConfig, opts ...Option) (*Logger, error) {
	fw, err := openFile(&c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(fw, opts...)
	logger.closer, _ = fw.(io.Closer)
	return logger, nil
}

// NewMulti 同时输出到文件和控制台
func NewMulti(c FileConfig, opts ...Option) (*Logger, error) {
	fw, err := openFile(&c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(zerolog.MultiLevelWriter(fw, writer.Console(os.Stdout)), opts...)
	logger.closer, _ = fw.(io.Closer)
	return logger, nil
}

// NewFromConfig 根据配置创建 Logger
func NewFromConfig(c Config, extra ...Option) (*Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Level, err)
	}
	opts := []Option{WithLevel(level)}
	if c.Caller {
		opts = append(opts, WithCaller())
	}
	opts = append(opts, extra...)

	switch c.Output {
	case OutputFile:
		return NewFile(c.File, opts...)
	case OutputMulti:
		return NewMulti(c.File, opts...)
	default:
		return New(opts...), nil
	}
}

func openFile(c *FileConfig) (io.Writer, error) {
	if err := tag.ApplyDefaults(c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	w, err := writer.File(c.toWriterConfig())
	if err != nil {
		return nil, fmt.Errorf("create file writer: %w", err)
	}
	return w, nil
}
