package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xsig/internal/domain/model"
)

func TestSignalCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewSignalCooldown(5 * time.Minute)
	c.now = func() time.Time { return now }

	assert.True(t, c.TryAcquire("XBTUSDTM", model.Bullish))
	assert.False(t, c.TryAcquire("XBTUSDTM", model.Bullish))
	assert.True(t, c.CoolingDown("XBTUSDTM", model.Bullish))

	// 方向和品种分别独立
	assert.True(t, c.TryAcquire("XBTUSDTM", model.Bearish))
	assert.True(t, c.TryAcquire("ETHUSDTM", model.Bullish))
	assert.Equal(t, 3, c.Len())

	now = now.Add(5 * time.Minute)
	assert.False(t, c.CoolingDown("XBTUSDTM", model.Bullish))
	assert.True(t, c.TryAcquire("XBTUSDTM", model.Bullish))
	// 过期记录在写入时被清理
	assert.Equal(t, 1, c.Len())
	assert.Len(t, *c.table.Load(), 1)
}

func TestSignalCooldownConcurrentAcquire(t *testing.T) {
	c := NewSignalCooldown(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire("SOLUSDTM", model.Bearish) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
