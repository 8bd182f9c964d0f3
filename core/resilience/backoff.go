package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// jitterBackOff 计算 min(base * 2^attempt + U(0, jitter), max)，实现 backoff.BackOff
type jitterBackOff struct {
	base    time.Duration
	max     time.Duration
	jitter  time.Duration
	attempt int
	rand    func() float64
}

func newJitterBackOff(cfg Config) *jitterBackOff {
	return &jitterBackOff{
		base:   cfg.BaseDelay,
		max:    cfg.MaxDelay,
		jitter: cfg.Jitter,
		rand:   rand.Float64,
	}
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	d := float64(b.base)*math.Pow(2, float64(b.attempt)) + b.rand()*float64(b.jitter)
	b.attempt++
	if b.max > 0 && d > float64(b.max) {
		return b.max
	}
	return time.Duration(d)
}

func (b *jitterBackOff) Reset() {
	b.attempt = 0
}
