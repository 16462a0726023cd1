package indicator

import (
	"fmt"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// ema 增量指数均线，前 period 个值用简单平均做种子
type ema struct {
	period int
	k      float64
	n      int
	sum    float64
	value  float64
}

func newEMA(period int) *ema {
	return &ema{period: period, k: 2 / float64(period+1)}
}

func (e *ema) push(v float64) {
	e.n++
	if e.n <= e.period {
		e.sum += v
		e.value = e.sum / float64(e.n)
		return
	}
	e.value = (v-e.value)*e.k + e.value
}

func (e *ema) ready() bool { return e.n >= e.period }

// EMACross 快慢均线交叉与趋势
type EMACross struct {
	name       string
	fast, slow *ema
	prevDiff   float64
	hasPrev    bool
}

// NewEMACross 参数: fast(9) slow(21)
func NewEMACross(name string, p map[string]float64) (port.Indicator, error) {
	fast, err := period(p, "fast", 9)
	if err != nil {
		return nil, err
	}
	slow, err := period(p, "slow", 21)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("fast period %d must be < slow period %d", fast, slow)
	}
	return &EMACross{name: name, fast: newEMA(fast), slow: newEMA(slow)}, nil
}

func (e *EMACross) Name() string { return e.name }

func (e *EMACross) Ready() bool { return e.slow.ready() }

// Update 结果值为快慢线差占慢线的百分比
func (e *EMACross) Update(bar model.Bar) model.IndicatorResult {
	e.fast.push(bar.Close)
	e.slow.push(bar.Close)
	if !e.Ready() || e.slow.value == 0 {
		return model.IndicatorResult{}
	}

	diff := (e.fast.value - e.slow.value) / e.slow.value * 100
	res := model.IndicatorResult{Value: diff}
	crossed := e.hasPrev && (e.prevDiff <= 0) != (diff <= 0)
	e.prevDiff, e.hasPrev = diff, true

	switch {
	case crossed && diff > 0:
		res.Signals = append(res.Signals, model.Signal{Type: "bullish_crossover", Direction: model.Bullish, Strength: model.Strong})
	case crossed:
		res.Signals = append(res.Signals, model.Signal{Type: "bearish_crossover", Direction: model.Bearish, Strength: model.Strong})
	case diff > 0 && bar.Close > e.slow.value:
		res.Signals = append(res.Signals, model.Signal{Type: "bullish_trend", Direction: model.Bullish, Strength: trendStrength(diff)})
	case diff < 0 && bar.Close < e.slow.value:
		res.Signals = append(res.Signals, model.Signal{Type: "bearish_trend", Direction: model.Bearish, Strength: trendStrength(-diff)})
	}
	return res
}

func trendStrength(gapPct float64) model.Strength {
	switch {
	case gapPct >= 1:
		return model.Strong
	case gapPct >= 0.3:
		return model.Moderate
	default:
		return model.Weak
	}
}
