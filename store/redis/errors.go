package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNil 键不存在
	ErrNil = redis.Nil

	ErrMissingURL    = errors.New("redis: url is required")
	ErrInvalidConfig = errors.New("redis: invalid configuration")
)
