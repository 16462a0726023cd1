package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 令牌桶限流器
// 以 capacity/interval 的速率连续补充令牌；令牌不足时调用方按自身欠额等待，请求从不被拒绝
type RateLimiter struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time

	now func() time.Time
}

// NewRateLimiter 创建限流器，初始令牌为满
func NewRateLimiter(capacity int, interval time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	l := &RateLimiter{
		capacity: float64(capacity),
		rate:     float64(capacity) / interval.Seconds(),
		tokens:   float64(capacity),
		now:      time.Now,
	}
	l.last = l.now()
	return l
}

// Acquire 获取 n 个令牌，不足时阻塞直到补足或 ctx 结束
// 令牌在加锁期间预留（可为负），因此每个调用方只等待自己的欠额，不会阻塞其他调用方
func (l *RateLimiter) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	l.refill(l.now())
	l.tokens -= float64(n)
	var wait time.Duration
	if l.tokens < 0 {
		wait = time.Duration(-l.tokens / l.rate * float64(time.Second))
	}
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// 归还预留的令牌
		l.mu.Lock()
		l.refill(l.now())
		l.tokens += float64(n)
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Available 当前可用令牌数（可能为负，表示已有等待者）
func (l *RateLimiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.now())
	return l.tokens
}

func (l *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}
