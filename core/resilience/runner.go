// Package resilience 为每一次存储访问提供有界重试（指数退避 + 抖动）与熔断保护。
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	kerrors "github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
)

// Config 重试与熔断配置
type Config struct {
	MaxAttempts    int           `mapstructure:"max_attempts" default:"3" validate:"gte=1"`
	BaseDelay      time.Duration `mapstructure:"base_delay" default:"100ms"`
	MaxDelay       time.Duration `mapstructure:"max_delay" default:"2s"`
	Jitter         time.Duration `mapstructure:"jitter" default:"100ms"`
	ErrorThreshold int           `mapstructure:"error_threshold" default:"5" validate:"gte=1"`
	ResetTimeout   time.Duration `mapstructure:"reset_timeout" default:"30s"`
}

// Runner 包装存储操作：熔断打开时快速失败，否则对瞬时故障按退避重试，
// 重试耗尽后以 ErrUnavailable 返回。
type Runner struct {
	cfg        Config
	breaker    *Breaker
	logger     *log.Logger
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
}

// Option 运行器选项
type Option func(*Runner)

func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock 替换熔断器使用的时钟
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.breaker.now = now }
}

// New 创建运行器
func New(cfg Config, opts ...Option) *Runner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	r := &Runner{
		cfg:     cfg,
		breaker: NewBreaker(cfg.ErrorThreshold, cfg.ResetTimeout),
		logger:  log.G,
	}
	r.newBackOff = func() backoff.BackOff { return newJitterBackOff(r.cfg) }
	for _, opt := range opts {
		opt(r)
	}
	r.breaker.onChange = r.onStateChange
	return r
}

// Breaker 返回内部熔断器
func (r *Runner) Breaker() *Breaker {
	return r.breaker
}

// Exec 执行无返回值的操作
func (r *Runner) Exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 通过运行器执行 fn。
// 非瞬时错误（包括 redis.Nil 与事务冲突）原样返回且不重试；
// 瞬时错误重试耗尽或熔断打开时返回 ErrUnavailable。
func Do[T any](ctx context.Context, r *Runner, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !r.breaker.Allow() {
		r.metrics.Op(op, "rejected")
		return zero, kerrors.ErrUnavailable.WithReason("circuit_open").WithMetadata(map[string]string{"op": op})
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.metrics.Retry(op)
			r.logger.Debug().Err(err).Str("op", op).Dur("backoff", next).Msg("retrying store operation")
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	switch {
	case err == nil:
		r.breaker.Success()
		r.metrics.Op(op, "success")
		return res, nil
	case ctx.Err() != nil && !IsTransient(err):
		r.breaker.Release()
		return zero, err
	case ctx.Err() != nil:
		r.breaker.Release()
		return zero, kerrors.ErrUnavailable.WithReason("canceled").WithCause(err)
	case IsTransient(err):
		r.breaker.Failure()
		r.metrics.Op(op, "failure")
		r.logger.Warn().Err(err).Str("op", op).Int("attempts", r.cfg.MaxAttempts).Msg("store operation failed")
		return zero, kerrors.ErrUnavailable.WithMetadata(map[string]string{"op": op}).WithCause(err)
	default:
		// 存储有应答，视为可达
		r.breaker.Success()
		r.metrics.Op(op, "success")
		return res, err
	}
}

func (r *Runner) onStateChange(from, to State) {
	r.metrics.Breaker(int(to), to.String())
	event := r.logger.Warn()
	if to == StateClosed {
		event = r.logger.Info()
	}
	event.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
}
