package service

import (
	"sync/atomic"
	"time"

	"xsig/internal/domain/model"
)

// cooldownKey (symbol, direction)
type cooldownKey struct {
	symbol string
	dir    model.Direction
}

// SignalCooldown 按 (symbol, direction) 的信号冷却表
// 整表写时复制并通过 CAS 替换，读方永远看到完整快照
type SignalCooldown struct {
	window time.Duration
	table  atomic.Pointer[map[cooldownKey]time.Time]

	now func() time.Time
}

// NewSignalCooldown 创建冷却表
func NewSignalCooldown(window time.Duration) *SignalCooldown {
	c := &SignalCooldown{window: window, now: time.Now}
	empty := make(map[cooldownKey]time.Time)
	c.table.Store(&empty)
	return c
}

// Window 冷却窗口
func (c *SignalCooldown) Window() time.Duration { return c.window }

// CoolingDown 是否仍在冷却中
func (c *SignalCooldown) CoolingDown(symbol string, dir model.Direction) bool {
	last, ok := (*c.table.Load())[cooldownKey{symbol, dir}]
	return ok && c.now().Sub(last) < c.window
}

// TryAcquire 不在冷却中则记录本次时间并返回 true
func (c *SignalCooldown) TryAcquire(symbol string, dir model.Direction) bool {
	key := cooldownKey{symbol, dir}
	for {
		cur := c.table.Load()
		now := c.now()
		if last, ok := (*cur)[key]; ok && now.Sub(last) < c.window {
			return false
		}

		next := make(map[cooldownKey]time.Time, len(*cur)+1)
		for k, v := range *cur {
			// 顺带清理过期记录
			if now.Sub(v) < c.window {
				next[k] = v
			}
		}
		next[key] = now
		if c.table.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// Len 当前冷却中的记录数
func (c *SignalCooldown) Len() int {
	now := c.now()
	n := 0
	for _, v := range *c.table.Load() {
		if now.Sub(v) < c.window {
			n++
		}
	}
	return n
}
