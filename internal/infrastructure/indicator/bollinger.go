package indicator

import (
	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// Bollinger 布林带触轨
type Bollinger struct {
	name   string
	k      float64
	closes *window
}

// NewBollinger 参数: period(20) k(2)
func NewBollinger(name string, p map[string]float64) (port.Indicator, error) {
	n, err := period(p, "period", 20)
	if err != nil {
		return nil, err
	}
	return &Bollinger{name: name, k: param(p, "k", 2), closes: newWindow(n)}, nil
}

func (b *Bollinger) Name() string { return b.name }

func (b *Bollinger) Ready() bool { return b.closes.full() }

// Update 结果值为 %B（0 为下轨，1 为上轨）
func (b *Bollinger) Update(bar model.Bar) model.IndicatorResult {
	b.closes.push(bar.Close)
	if !b.Ready() {
		return model.IndicatorResult{}
	}

	mid := b.closes.mean()
	sd := b.closes.stddev()
	upper, lower := mid+b.k*sd, mid-b.k*sd
	if upper == lower {
		return model.IndicatorResult{Value: 0.5}
	}
	pctB := (bar.Close - lower) / (upper - lower)
	res := model.IndicatorResult{Value: pctB}

	switch {
	case pctB <= 0:
		res.Signals = append(res.Signals, model.Signal{
			Type:      "lower_band_touch",
			Direction: model.Bullish,
			Strength:  extremity(-pctB, 0.1),
			Metadata:  map[string]any{"lower": lower, "mid": mid},
		})
	case pctB >= 1:
		res.Signals = append(res.Signals, model.Signal{
			Type:      "upper_band_touch",
			Direction: model.Bearish,
			Strength:  extremity(pctB-1, 0.1),
			Metadata:  map[string]any{"upper": upper, "mid": mid},
		})
	}
	return res
}
