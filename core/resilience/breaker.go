package resilience

import (
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 熔断，快速失败
	StateHalfOpen              // 冷却结束，仅放行一个探测请求
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker 熔断器。所有字段都在 mu 保护下读写，状态变更回调在锁外执行。
type Breaker struct {
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	onChange     func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker 创建熔断器，threshold 次连续失败后打开，resetTimeout 后进入半开
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow 判断是否放行。半开状态下同一时刻只有一个探测请求。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var from State
	changed := false
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) > b.resetTimeout {
			from, changed = b.setState(StateHalfOpen)
			b.probing = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateHalfOpen)
	}
	return allowed
}

// Success 记录一次成功，清零计数并回到关闭状态
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	from, changed := b.setState(StateClosed)
	b.mu.Unlock()

	if changed {
		b.notify(from, StateClosed)
	}
}

// Failure 记录一次失败。关闭状态下达到阈值或半开探测失败都会（重新）打开并重置计时。
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	b.probing = false

	var from State
	changed := false
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		from, changed = b.setState(StateOpen)
		b.openedAt = b.now()
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateOpen)
	}
}

// Release 探测请求没有给出结论（例如调用方取消），释放探测名额
func (b *Breaker) Release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// State 当前状态。处于 open 且冷却已过时仍报告 open，直到下一次 Allow。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures 当前连续失败次数
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset 强制回到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	from, changed := b.setState(StateClosed)
	b.mu.Unlock()

	if changed {
		b.notify(from, StateClosed)
	}
}

// Stats 熔断器快照
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:        b.state.String(),
		Failures:     b.failures,
		Threshold:    b.threshold,
		ResetTimeout: b.resetTimeout.String(),
		OpenedAt:     b.openedAt,
	}
}

// BreakerStats 熔断器统计信息
type BreakerStats struct {
	State        string    `json:"state"`
	Failures     int       `json:"failures"`
	Threshold    int       `json:"threshold"`
	ResetTimeout string    `json:"reset_timeout"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
}

// setState 需持有 mu
func (b *Breaker) setState(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
