package minio

import (
	"time"

	"github.com/kochabx/vidchat/core/tag"
)

// Config 对象存储配置
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region" default:"us-east-1"`
	Bucket          string `mapstructure:"bucket" default:"vidchat"`
	// Prefix 对象名前缀
	Prefix string `mapstructure:"prefix" default:"videos/"`
	// CreateBucket 为 true 时启动时自动建桶
	CreateBucket bool `mapstructure:"create_bucket"`
	// PresignExpiry 下载链接有效期
	PresignExpiry  time.Duration `mapstructure:"presign_expiry" default:"1h"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" default:"30s"`
}

func (c *Config) init() error {
	if err := tag.ApplyDefaults(c); err != nil {
		return err
	}
	switch {
	case c.Endpoint == "":
		return ErrInvalidConfig.WithReason("endpoint")
	case c.AccessKeyID == "" || c.SecretAccessKey == "":
		return ErrInvalidConfig.WithReason("credentials")
	case c.Bucket == "":
		return ErrEmptyBucketName
	}
	return nil
}
