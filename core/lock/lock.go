// Package lock 提供基于 Redis 的租约锁，多实例部署时保证同一时刻只有一个持有者。
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/errors"
)

// 只有 token 匹配的持有者才能释放或续期
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker 锁工厂
type Locker struct {
	rdb    redis.UniversalClient
	runner *resilience.Runner
	owner  string
}

// New owner 写入锁值前缀，便于排查是哪个实例持有
func New(rdb redis.UniversalClient, runner *resilience.Runner, owner string) *Locker {
	return &Locker{rdb: rdb, runner: runner, owner: owner}
}

// Lease 已获得的锁
type Lease struct {
	l     *Locker
	key   string
	token string
}

// Acquire 尝试获取锁，已被他人持有时返回 (nil, nil)
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if name == "" || ttl <= 0 {
		return nil, errors.ErrInvalidInput.WithReason("invalid_lock")
	}
	key := keyspace.LockKey(name)
	token := l.owner + ":" + uuid.NewString()
	ok, err := resilience.Do(ctx, l.runner, "lock.acquire", func(ctx context.Context) (bool, error) {
		return l.rdb.SetNX(ctx, key, token, ttl).Result()
	})
	if err != nil || !ok {
		return nil, err
	}
	return &Lease{l: l, key: key, token: token}, nil
}

// Holder 返回当前持有者的锁值，未被持有时为空
func (l *Locker) Holder(ctx context.Context, name string) (string, error) {
	v, err := resilience.Do(ctx, l.runner, "lock.holder", func(ctx context.Context) (string, error) {
		return l.rdb.Get(ctx, keyspace.LockKey(name)).Result()
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Release 释放锁，锁已过期或被他人持有时返回 false
func (ls *Lease) Release(ctx context.Context) (bool, error) {
	n, err := resilience.Do(ctx, ls.l.runner, "lock.release", func(ctx context.Context) (int64, error) {
		return releaseScript.Run(ctx, ls.l.rdb, []string{ls.key}, ls.token).Int64()
	})
	return n == 1, err
}

// Extend 续期，仅当仍持有锁时成功
func (ls *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := resilience.Do(ctx, ls.l.runner, "lock.extend", func(ctx context.Context) (int64, error) {
		return extendScript.Run(ctx, ls.l.rdb, []string{ls.key}, ls.token, ttl.Milliseconds()).Int64()
	})
	return n == 1, err
}
