package model

// Direction 信号方向
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Sign 多为 +1，空为 -1
func (d Direction) Sign() float64 {
	switch d {
	case Bullish:
		return 1
	case Bearish:
		return -1
	}
	return 0
}

// Opposite 反向
func (d Direction) Opposite() Direction {
	if d == Bullish {
		return Bearish
	}
	if d == Bearish {
		return Bullish
	}
	return d
}

// Strength 信号强度
type Strength string

const (
	Weak       Strength = "weak"
	Moderate   Strength = "moderate"
	Strong     Strength = "strong"
	VeryStrong Strength = "very_strong"
	Extreme    Strength = "extreme"
)

// Signal 单个指标发出的一条观点
type Signal struct {
	Type      string         `json:"type"` // 例如 rsi_oversold / bullish_crossover / bullish_divergence
	Direction Direction      `json:"direction"`
	Strength  Strength       `json:"strength"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IndicatorResult 指标在当前 K 线收盘时的输出
type IndicatorResult struct {
	Value   float64  `json:"value"`
	Signals []Signal `json:"signals"`
}

// SignalAvoidEntry 微观结构否决信号类型
const SignalAvoidEntry = "AVOID_ENTRY"

// MicrostructureResult 实盘模式下的订单流/价差观点
type MicrostructureResult struct {
	Signals    []Signal `json:"signals"`
	AvoidEntry bool     `json:"avoid_entry"`
	Reasons    []string `json:"reasons,omitempty"`
}
