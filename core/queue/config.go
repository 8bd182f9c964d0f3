package queue

import "time"

// Config 队列与 Worker 配置
type Config struct {
	MaxRetries   int           `mapstructure:"max_retries" default:"3" validate:"gte=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" default:"1s" validate:"gt=0"`
	Workers      int           `mapstructure:"workers" default:"4" validate:"gte=1"`
	ResultTTL    time.Duration `mapstructure:"result_ttl" default:"24h" validate:"gt=0"`
	DLQMaxSize   int64         `mapstructure:"dlq_max_size" default:"1000" validate:"gte=1"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout" default:"5m" validate:"gt=0"`
}
