package indicator

import (
	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// 指标类型
const (
	KindRSI         = "rsi"
	KindEMACross    = "ema_cross"
	KindBollinger   = "bollinger"
	KindVolumeSpike = "volume_spike"
)

// RSI Wilder 平滑的相对强弱指标，附带价格 / RSI 背离
type RSI struct {
	name       string
	period     int
	overbought float64
	oversold   float64

	prevClose float64
	changes   int
	avgGain   float64
	avgLoss   float64

	// 背离判断用的历史收盘价与 RSI
	closes *window
	values *window
}

// NewRSI 参数: period(14) overbought(70) oversold(30) lookback(14)
func NewRSI(name string, p map[string]float64) (port.Indicator, error) {
	n, err := period(p, "period", 14)
	if err != nil {
		return nil, err
	}
	lb, err := period(p, "lookback", 14)
	if err != nil {
		return nil, err
	}
	return &RSI{
		name:       name,
		period:     n,
		overbought: param(p, "overbought", 70),
		oversold:   param(p, "oversold", 30),
		closes:     newWindow(lb),
		values:     newWindow(lb),
	}, nil
}

func (r *RSI) Name() string { return r.name }

func (r *RSI) Ready() bool { return r.changes >= r.period }

func (r *RSI) Update(bar model.Bar) model.IndicatorResult {
	if r.prevClose == 0 {
		r.prevClose = bar.Close
		return model.IndicatorResult{Value: 50}
	}
	change := bar.Close - r.prevClose
	r.prevClose = bar.Close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	r.changes++
	p := float64(r.period)
	if r.changes <= r.period {
		// 前 period 个变化用简单平均
		r.avgGain += gain / p
		r.avgLoss += loss / p
	} else {
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	value := r.value()
	if !r.Ready() {
		return model.IndicatorResult{Value: value}
	}

	res := model.IndicatorResult{Value: value}
	switch {
	case value <= r.oversold:
		res.Signals = append(res.Signals, model.Signal{
			Type:      "rsi_oversold",
			Direction: model.Bullish,
			Strength:  extremity(r.oversold-value, 10),
			Metadata:  map[string]any{"rsi": value},
		})
	case value >= r.overbought:
		res.Signals = append(res.Signals, model.Signal{
			Type:      "rsi_overbought",
			Direction: model.Bearish,
			Strength:  extremity(value-r.overbought, 10),
			Metadata:  map[string]any{"rsi": value},
		})
	}

	if r.closes.full() {
		switch {
		case bar.Close < r.closes.min() && value > r.values.min() && value < 50:
			res.Signals = append(res.Signals, model.Signal{Type: "bullish_divergence", Direction: model.Bullish, Strength: model.Strong})
		case bar.Close > r.closes.max() && value < r.values.max() && value > 50:
			res.Signals = append(res.Signals, model.Signal{Type: "bearish_divergence", Direction: model.Bearish, Strength: model.Strong})
		}
	}
	r.closes.push(bar.Close)
	r.values.push(value)
	return res
}

func (r *RSI) value() float64 {
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// extremity 超出阈值的程度映射为强度，step 为每档宽度
func extremity(beyond, step float64) model.Strength {
	switch {
	case beyond >= 3*step:
		return model.Extreme
	case beyond >= 2*step:
		return model.VeryStrong
	case beyond >= step:
		return model.Strong
	default:
		return model.Moderate
	}
}
