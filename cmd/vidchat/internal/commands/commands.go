// Package commands 实现 vidchat 命令行的各个子命令。
package commands

import (
	"github.com/kochabx/vidchat/config"
	"github.com/kochabx/vidchat/core/manager"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/store/oss/minio"
	transport "github.com/kochabx/vidchat/transport/http"
	"github.com/kochabx/vidchat/transport/http/api"
)

type Globals struct {
	ConfigFile string
	Version    string
}

// Config 进程完整配置，manager 各节平铺在顶层
type Config struct {
	manager.Config `mapstructure:",squash"`

	HTTP   transport.Config          `mapstructure:"http"`
	Cookie transport.CookieConfig    `mapstructure:"cookie"`
	Log    log.Config                `mapstructure:"log"`
	Users  map[string]api.StaticUser `mapstructure:"users" validate:"dive"`

	Archive ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig 处理完成的视频转存到对象存储
type ArchiveConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	minio.Config `mapstructure:",squash"`
}

// load 读取配置并初始化全局日志
func (g *Globals) load() (*Config, *log.Logger, error) {
	var cfg Config
	if _, err := config.Load(g.ConfigFile, &cfg); err != nil {
		return nil, nil, err
	}
	logger, err := log.NewFromConfig(cfg.Log, log.WithFields(map[string]string{"service": "vidchat", "version": g.Version}))
	if err != nil {
		return nil, nil, err
	}
	log.SetGlobalLogger(logger)
	return &cfg, logger, nil
}
