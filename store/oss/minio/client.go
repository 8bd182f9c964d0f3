// Package minio 把文件归档到 S3 兼容的对象存储。
package minio

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kochabx/vidchat/log"
)

// Client MinIO 客户端
type Client struct {
	config *Config
	core   *minio.Core
	logger *log.Logger
}

// Option 客户端选项
type Option func(*options)

type options struct {
	logger    *log.Logger
	transport http.RoundTripper
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTransport 自定义 HTTP 传输
func WithTransport(t http.RoundTripper) Option {
	return func(o *options) { o.transport = t }
}

// NewClient 创建客户端，CreateBucket 为 true 时确保桶存在
func NewClient(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.init(); err != nil {
		return nil, err
	}
	o := &options{logger: log.G}
	for _, opt := range opts {
		opt(o)
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: o.transport,
	})
	if err != nil {
		return nil, ErrInvalidConfig.WithCause(err)
	}

	c := &Client{config: cfg, core: core, logger: o.logger.Component("minio")}
	if cfg.CreateBucket {
		if err := c.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Config() Config {
	return *c.config
}

// ObjectName 拼接前缀与文件 id
func (c *Client) ObjectName(fileID string) string {
	return path.Join(c.config.Prefix, fileID)
}

func (c *Client) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	exists, err := c.core.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return &ObjectError{Bucket: c.config.Bucket, Operation: "bucket_exists", Err: err}
	}
	if exists {
		return nil
	}
	if err := c.core.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return &ObjectError{Bucket: c.config.Bucket, Operation: "make_bucket", Err: err}
	}
	c.logger.Info().Str("bucket", c.config.Bucket).Msg("bucket created")
	return nil
}

// Put 上传对象并返回对象名
func (c *Client) Put(ctx context.Context, fileID string, data []byte, contentType string) (string, error) {
	if fileID == "" {
		return "", ErrEmptyObjectName
	}
	object := c.ObjectName(fileID)

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	info, err := c.core.PutObject(ctx, c.config.Bucket, object, bytes.NewReader(data), int64(len(data)), "", "",
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", &ObjectError{Bucket: c.config.Bucket, Object: object, Operation: "put", Err: err}
	}
	c.logger.Debug().Str("object", object).Int64("size", info.Size).Str("etag", info.ETag).Msg("object stored")
	return object, nil
}

// Exists 检查对象是否存在
func (c *Client) Exists(ctx context.Context, fileID string) (bool, error) {
	object := c.ObjectName(fileID)
	_, err := c.core.StatObject(ctx, c.config.Bucket, object, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, &ObjectError{Bucket: c.config.Bucket, Object: object, Operation: "stat", Err: err}
	}
	return true, nil
}

// PresignedURL 生成限时下载链接
func (c *Client) PresignedURL(ctx context.Context, fileID string) (*url.URL, time.Time, error) {
	object := c.ObjectName(fileID)
	u, err := c.core.PresignedGetObject(ctx, c.config.Bucket, object, c.config.PresignExpiry, nil)
	if err != nil {
		return nil, time.Time{}, &ObjectError{Bucket: c.config.Bucket, Object: object, Operation: "presign_get", Err: err}
	}
	return u, time.Now().Add(c.config.PresignExpiry), nil
}

// Ping 检查桶是否可访问
func (c *Client) Ping(ctx context.Context) error {
	exists, err := c.core.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return &ObjectError{Bucket: c.config.Bucket, Operation: "bucket_exists", Err: err}
	}
	if !exists {
		return ErrBucketNotFound.WithReason(c.config.Bucket)
	}
	return nil
}
