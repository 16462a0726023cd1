package indicator

import "math"

// window 定长滑动窗口
type window struct {
	buf  []float64
	head int
	n    int
	sum  float64
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	if w.n == len(w.buf) {
		w.sum -= w.buf[w.head]
	} else {
		w.n++
	}
	w.buf[w.head] = v
	w.sum += v
	w.head = (w.head + 1) % len(w.buf)
}

func (w *window) full() bool { return w.n == len(w.buf) }

func (w *window) mean() float64 {
	if w.n == 0 {
		return 0
	}
	return w.sum / float64(w.n)
}

// stddev 总体标准差，按窗口重新计算避免累计误差
func (w *window) stddev() float64 {
	if w.n == 0 {
		return 0
	}
	m := w.mean()
	var ss float64
	for i := 0; i < w.n; i++ {
		d := w.buf[i] - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(w.n))
}

// min / max 窗口极值
func (w *window) min() float64 {
	out := math.Inf(1)
	for i := 0; i < w.n; i++ {
		out = math.Min(out, w.buf[i])
	}
	return out
}

func (w *window) max() float64 {
	out := math.Inf(-1)
	for i := 0; i < w.n; i++ {
		out = math.Max(out, w.buf[i])
	}
	return out
}
