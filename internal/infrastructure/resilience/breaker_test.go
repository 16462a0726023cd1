package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewCircuitBreaker(cfg)
	b.now = clk.Now
	return b, clk
}

// 连续 5 次失败后打开，超时后放行一次试探，3 次成功后关闭
func TestCircuitBreakerOpenHalfOpenClose(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, ResetTimeout: time.Second})

	for i := 0; i < 4; i++ {
		require.True(t, b.CanExecute())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	clk.Advance(999 * time.Millisecond)
	assert.False(t, b.CanExecute())

	clk.Advance(time.Millisecond)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())
	// 试探结果未记录前不再放行
	assert.False(t, b.CanExecute())

	b.RecordSuccess()
	require.True(t, b.CanExecute())
	b.RecordSuccess()
	require.True(t, b.CanExecute())
	b.RecordSuccess()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.True(t, b.CanExecute())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 3, ResetTimeout: time.Second})

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	clk.Advance(time.Second)
	require.True(t, b.CanExecute())
	b.RecordSuccess()
	require.True(t, b.CanExecute())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	clk.Advance(time.Second)
	assert.True(t, b.CanExecute())
}

// 成功会衰减失败计数，零散失败不会累积打开
func TestCircuitBreakerSuccessDecaysFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Second})

	for i := 0; i < 10; i++ {
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordSuccess()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 1, b.Failures())
}

func TestCircuitBreakerExecute(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})
	boom := errors.New("boom")

	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.State())

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerStateChangeHook(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Second})

	var transitions []string
	b.OnStateChange(func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	b.RecordFailure()
	clk.Advance(time.Second)
	b.CanExecute()
	b.RecordSuccess()

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}
