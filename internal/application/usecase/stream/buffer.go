package stream

import "xsig/internal/domain/model"

// BarBuffer 定长 K 线环形缓冲，按时间顺序保存最近的已收盘 K 线
type BarBuffer struct {
	bars []model.Bar
	head int
	n    int
}

// NewBarBuffer 创建容量为 size 的缓冲
func NewBarBuffer(size int) *BarBuffer {
	if size <= 0 {
		size = 1
	}
	return &BarBuffer{bars: make([]model.Bar, size)}
}

// Push 追加一根 K 线，满时覆盖最旧的
func (b *BarBuffer) Push(bar model.Bar) {
	b.bars[b.head] = bar
	b.head = (b.head + 1) % len(b.bars)
	if b.n < len(b.bars) {
		b.n++
	}
}

func (b *BarBuffer) Len() int { return b.n }

func (b *BarBuffer) Cap() int { return len(b.bars) }

// Last 最近一根
func (b *BarBuffer) Last() (model.Bar, bool) {
	if b.n == 0 {
		return model.Bar{}, false
	}
	return b.bars[(b.head-1+len(b.bars))%len(b.bars)], true
}

// Tail 最近 n 根（旧 -> 新），返回副本
func (b *BarBuffer) Tail(n int) []model.Bar {
	if n <= 0 || n > b.n {
		n = b.n
	}
	out := make([]model.Bar, n)
	start := (b.head - n + len(b.bars)) % len(b.bars)
	for i := 0; i < n; i++ {
		out[i] = b.bars[(start+i)%len(b.bars)]
	}
	return out
}
