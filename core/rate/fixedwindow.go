package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
)

// FixedWindowLimiter 固定窗口计数：窗口内第一次请求创建计数键并设置 TTL=window，
// 之后在 WATCH/MULTI 下递增，冲突时整体重试，保证同一键上的判定可线性化。
type FixedWindowLimiter struct {
	rdb     redis.UniversalClient
	runner  *resilience.Runner
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
}

var _ Limiter = (*FixedWindowLimiter)(nil)

type Option func(*FixedWindowLimiter)

func WithLogger(logger *log.Logger) Option {
	return func(l *FixedWindowLimiter) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *FixedWindowLimiter) { l.metrics = m }
}

func NewFixedWindowLimiter(rdb redis.UniversalClient, runner *resilience.Runner, cfg Config, opts ...Option) (*FixedWindowLimiter, error) {
	if rdb == nil || runner == nil {
		return nil, errors.Internal("rate: redis client and runner are required")
	}
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	l := &FixedWindowLimiter{rdb: rdb, runner: runner, cfg: cfg, logger: log.G}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Component("rate")
	return l, nil
}

// Allow 额度内返回 true；存储不可用时放行（可用性优先）
func (l *FixedWindowLimiter) Allow(ctx context.Context, resource, identifier string) bool {
	d, err := l.Reserve(ctx, resource, identifier)
	if err != nil {
		l.logger.Warn().Err(err).Str("resource", resource).Msg("rate limiter unavailable, failing open")
		l.metrics.RateDecision(resource, "fail_open")
		return true
	}
	return d.Allowed
}

// Reserve 检查并消耗一次额度
func (l *FixedWindowLimiter) Reserve(ctx context.Context, resource, identifier string) (Decision, error) {
	rule := l.cfg.rule(resource)
	key := keyspace.RateKey(resource, identifier)

	for {
		var d Decision
		err := l.runner.Exec(ctx, "rate.reserve", func(ctx context.Context) error {
			return l.rdb.Watch(ctx, func(tx *redis.Tx) error {
				d = Decision{Limit: rule.Limit}

				count, err := tx.Get(ctx, key).Int()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				ttl, err := tx.PTTL(ctx, key).Result()
				if err != nil {
					return err
				}
				persistent := count > 0 && ttl == -1
				if ttl < 0 {
					ttl = rule.Window
				}
				d.RetryAfter = ttl

				if count >= rule.Limit {
					// 丢失 TTL 的计数器补上窗口，避免永久拒绝
					if persistent {
						_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
							p.PExpire(ctx, key, rule.Window)
							return nil
						})
					}
					return err
				}

				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					if count == 0 {
						p.Set(ctx, key, 1, rule.Window)
					} else {
						p.Incr(ctx, key)
						if persistent {
							p.PExpire(ctx, key, rule.Window)
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				d.Allowed = true
				d.Remaining = rule.Limit - count - 1
				return nil
			}, key)
		})
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return Decision{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Decision{}, err
		}

		if d.Allowed {
			l.metrics.RateDecision(resource, "allowed")
		} else {
			l.metrics.RateDecision(resource, "rejected")
		}
		return d, nil
	}
}

// Reset 清空某标识符当前窗口的计数
func (l *FixedWindowLimiter) Reset(ctx context.Context, resource, identifier string) error {
	return l.runner.Exec(ctx, "rate.reset", func(ctx context.Context) error {
		return l.rdb.Del(ctx, keyspace.RateKey(resource, identifier)).Err()
	})
}

// Window 返回资源生效的额度
func (l *FixedWindowLimiter) Window(resource string) (limit int, window time.Duration) {
	r := l.cfg.rule(resource)
	return r.Limit, r.Window
}
