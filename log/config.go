package log

import (
	"github.com/kochabx/vidchat/log/writer"
)

// Output 日志输出目标
type Output string

const (
	OutputConsole Output = "console"
	OutputFile    Output = "file"
	OutputMulti   Output = "multi"
)

// Config 日志配置
type Config struct {
	Level  string     `mapstructure:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Output Output     `mapstructure:"output" default:"console" validate:"oneof=console file multi"`
	Caller bool       `mapstructure:"caller"`
	File   FileConfig `mapstructure:"file"`
}

// FileConfig 日志文件配置
type FileConfig struct {
	Filepath   string            `mapstructure:"filepath" default:"log"`
	Filename   string            `mapstructure:"filename" default:"vidchat"`
	FileExt    string            `mapstructure:"file_ext" default:"log"`
	RotateMode writer.RotateMode `mapstructure:"rotate_mode"`
	Rotatelogs RotatelogsConfig  `mapstructure:"rotatelogs"`
	Lumberjack LumberjackConfig  `mapstructure:"lumberjack"`
}

// RotatelogsConfig 按时间轮转，单位小时
type RotatelogsConfig struct {
	MaxAge       int `mapstructure:"max_age" default:"24"`
	RotationTime int `mapstructure:"rotation_time" default:"1"`
}

// LumberjackConfig 按大小轮转
type LumberjackConfig struct {
	MaxSize    int  `mapstructure:"max_size" default:"100"`
	MaxBackups int  `mapstructure:"max_backups" default:"5"`
	MaxAge     int  `mapstructure:"max_age" default:"30"`
	Compress   bool `mapstructure:"compress"`
}

func (c *FileConfig) toWriterConfig() writer.RotateConfig {
	return writer.RotateConfig{
		Filepath: c.Filepath,
		Filename: c.Filename,
		FileExt:  c.FileExt,
		Mode:     c.RotateMode,
		Time: writer.TimeRotateConfig{
			MaxAge:       c.Rotatelogs.MaxAge,
			RotationTime: c.Rotatelogs.RotationTime,
		},
		Size: writer.SizeRotateConfig{
			MaxSize:    c.Lumberjack.MaxSize,
			MaxBackups: c.Lumberjack.MaxBackups,
			MaxAge:     c.Lumberjack.MaxAge,
			Compress:   c.Lumberjack.Compress,
		},
	}
}
