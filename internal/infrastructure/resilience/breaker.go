package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen 熔断器打开，调用被拒绝
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState 熔断器状态
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           // 连续失败多少次后打开
	SuccessThreshold int           // 半开状态下成功多少次后关闭
	ResetTimeout     time.Duration // 打开后多久允许试探
}

// DefaultBreakerConfig 默认熔断配置
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	ResetTimeout:     30 * time.Second,
}

// CircuitBreaker CLOSED -> OPEN -> HALF_OPEN -> CLOSED
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	trial     bool // 半开状态下是否已有试探请求在途

	onChange func(from, to BreakerState)
	now      func() time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// OnStateChange 注册状态变化回调（在锁外调用）
func (b *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// State 当前状态
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures 当前失败计数
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// CanExecute 是否允许执行
// OPEN 超时后转入 HALF_OPEN 并放行一次试探，试探结果记录前不再放行
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	var from, to BreakerState
	changed := false
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			from, to, changed = b.state, StateHalfOpen, true
			b.state = StateHalfOpen
			b.successes = 0
			b.trial = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.trial {
			b.trial = true
			allowed = true
		}
	}
	fn := b.onChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, to)
	}
	return allowed
}

// RecordSuccess 记录一次成功
// CLOSED 状态下失败计数衰减而不是清零
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	var from, to BreakerState
	changed := false

	switch b.state {
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	case StateHalfOpen:
		b.trial = false
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			from, to, changed = b.state, StateClosed, true
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
	fn := b.onChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, to)
	}
}

// RecordFailure 记录一次失败
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	var from, to BreakerState
	changed := false

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			from, to, changed = b.state, StateOpen, true
			b.open()
		}
	case StateHalfOpen:
		from, to, changed = b.state, StateOpen, true
		b.open()
	case StateOpen:
		b.openedAt = b.now()
	}
	fn := b.onChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, to)
	}
}

func (b *CircuitBreaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
	b.trial = false
}

// Execute 在熔断保护下执行 fn
// ctx 取消导致的错误不计入失败
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.CanExecute() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case errors.Is(err, context.Canceled):
		b.release()
	default:
		b.RecordFailure()
	}
	return err
}

// release 放弃一次试探而不改变状态
func (b *CircuitBreaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.trial = false
	}
	b.mu.Unlock()
}
