// Package kafka 管理按主题复用的 Kafka 生产者。
package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"golang.org/x/sync/errgroup"

	"github.com/kochabx/vidchat/log"
)

// Client 按主题缓存同步生产者
type Client struct {
	config    *Config
	transport kafka.RoundTripper
	logger    *log.Logger

	producers map[string]*kafka.Writer
	closed    bool
	mu        sync.RWMutex
}

// Option 客户端选项
type Option func(*Client)

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport 替换底层传输，用于测试或自定义 TLS
func WithTransport(t kafka.RoundTripper) Option {
	return func(c *Client) { c.transport = t }
}

// New 创建客户端，不会立即连接 Broker
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, ErrEmptyBrokers
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}

	c := &Client{
		config:    cfg,
		logger:    log.G,
		producers: make(map[string]*kafka.Writer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component("kafka")
	if c.transport == nil {
		c.transport = c.createTransport()
	}
	return c, nil
}

// createTransport 创建传输配置，按需启用 SASL
func (c *Client) createTransport() *kafka.Transport {
	transport := &kafka.Transport{DialTimeout: c.config.Timeout}
	if c.config.Username != "" && c.config.Password != "" {
		transport.SASL = plain.Mechanism{
			Username: c.config.Username,
			Password: c.config.Password,
		}
	}
	return transport
}

func (c *Client) createWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.config.Brokers...),
		Topic:                  topic,
		Balancer:               c.config.balancer(),
		Transport:              c.transport,
		AllowAutoTopicCreation: c.config.AllowAutoTopicCreation,
		BatchTimeout:           c.config.BatchTimeout,
		WriteTimeout:           c.config.Timeout,
		RequiredAcks:           kafka.RequireOne,
	}
}

// Producer 返回指定主题的同步生产者，不存在时创建
func (c *Client) Producer(topic string) (*kafka.Writer, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	c.mu.RLock()
	w, ok := c.producers[topic]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}
	if ok {
		return w, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if w, ok := c.producers[topic]; ok {
		return w, nil
	}
	w = c.createWriter(topic)
	c.producers[topic] = w
	c.logger.Debug().Str("topic", topic).Msg("producer created")
	return w, nil
}

// Close 刷出并关闭全部生产者，可重复调用
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), c.config.CloseTimeout)
	defer cancel()

	eg, _ := errgroup.WithContext(ctx)
	for _, w := range c.producers {
		eg.Go(w.Close)
	}
	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.logger.Warn().Msg("timed out closing producers")
		return ctx.Err()
	}
}
