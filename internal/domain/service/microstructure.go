package service

import (
	"fmt"
	"math"
	"time"

	"xsig/internal/domain/model"
)

// MicrostructureConfig 实盘订单流 / 价差配置
type MicrostructureConfig struct {
	Window              time.Duration `toml:"window"`               // 成交统计窗口
	MaxSpreadBps        float64       `toml:"max_spread_bps"`       // 超过则禁止入场
	QuoteMaxAge         time.Duration `toml:"quote_max_age"`        // 报价过期后不参与判断
	FundingBlackout     time.Duration `toml:"funding_blackout"`     // 资金费结算前的禁入时间
	FlowImbalance       float64       `toml:"flow_imbalance"`       // 主动买卖失衡阈值 (0-1)
	ExhaustionImbalance float64       `toml:"exhaustion_imbalance"` // 与候选方向相反的极端失衡
	MinWindowVolume     float64       `toml:"min_window_volume"`    // 成交量过少时不产生订单流观点
}

// DefaultMicrostructureConfig 默认配置
func DefaultMicrostructureConfig() MicrostructureConfig {
	return MicrostructureConfig{
		Window:              time.Minute,
		MaxSpreadBps:        15,
		QuoteMaxAge:         30 * time.Second,
		FundingBlackout:     5 * time.Minute,
		FlowImbalance:       0.3,
		ExhaustionImbalance: 0.7,
		MinWindowVolume:     1,
	}
}

type execSample struct {
	ts   time.Time
	buy  bool
	size float64
}

// MicrostructureTracker 单个品种的订单流状态，只由处理该品种的 worker 访问
type MicrostructureTracker struct {
	cfg MicrostructureConfig

	quote     model.Quote
	quoteAt   time.Time
	execs     []execSample
	fundingAt time.Time
}

// NewMicrostructureTracker 创建追踪器
func NewMicrostructureTracker(cfg MicrostructureConfig) *MicrostructureTracker {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &MicrostructureTracker{cfg: cfg}
}

// OnQuote 更新最优买卖价
func (t *MicrostructureTracker) OnQuote(q model.Quote, at time.Time) {
	t.quote = q
	t.quoteAt = at
}

// OnExecution 记录一笔成交
func (t *MicrostructureTracker) OnExecution(e model.Execution, at time.Time) {
	t.execs = append(t.execs, execSample{ts: at, buy: e.Buy, size: e.Size})
	t.prune(at)
}

// SetNextFunding 更新下一次资金费结算时间
func (t *MicrostructureTracker) SetNextFunding(at time.Time) {
	t.fundingAt = at
}

func (t *MicrostructureTracker) prune(now time.Time) {
	cut := 0
	for cut < len(t.execs) && now.Sub(t.execs[cut].ts) > t.cfg.Window {
		cut++
	}
	if cut > 0 {
		t.execs = append(t.execs[:0], t.execs[cut:]...)
	}
}

// Imbalance 窗口内主动买卖失衡 (buy-sell)/(buy+sell) 及总量
func (t *MicrostructureTracker) Imbalance(now time.Time) (float64, float64) {
	t.prune(now)
	var buy, sell float64
	for _, e := range t.execs {
		if e.buy {
			buy += e.size
		} else {
			sell += e.size
		}
	}
	total := buy + sell
	if total == 0 {
		return 0, 0
	}
	return (buy - sell) / total, total
}

// Evaluate 针对候选方向给出微观结构观点
func (t *MicrostructureTracker) Evaluate(candidate model.Direction, now time.Time) *model.MicrostructureResult {
	res := &model.MicrostructureResult{}
	avoid := func(reason string) {
		res.AvoidEntry = true
		res.Reasons = append(res.Reasons, reason)
	}

	if !t.quoteAt.IsZero() && (t.cfg.QuoteMaxAge <= 0 || now.Sub(t.quoteAt) <= t.cfg.QuoteMaxAge) {
		if spread := t.quote.SpreadBps(); t.cfg.MaxSpreadBps > 0 && spread > t.cfg.MaxSpreadBps {
			avoid(fmt.Sprintf("spread %.1fbps > %.1fbps", spread, t.cfg.MaxSpreadBps))
		}
	}

	if !t.fundingAt.IsZero() && t.cfg.FundingBlackout > 0 {
		if until := t.fundingAt.Sub(now); until > 0 && until <= t.cfg.FundingBlackout {
			avoid(fmt.Sprintf("funding in %s", until.Round(time.Second)))
		}
	}

	imb, vol := t.Imbalance(now)
	if vol >= t.cfg.MinWindowVolume && vol > 0 {
		abs := math.Abs(imb)
		dir := model.Bullish
		if imb < 0 {
			dir = model.Bearish
		}
		if t.cfg.FlowImbalance > 0 && abs >= t.cfg.FlowImbalance {
			res.Signals = append(res.Signals, model.Signal{
				Type:      "order_flow_imbalance",
				Direction: dir,
				Strength:  flowStrength(abs),
				Metadata:  map[string]any{"imbalance": imb, "volume": vol},
			})
		}
		if candidate != "" && dir != candidate && t.cfg.ExhaustionImbalance > 0 && abs >= t.cfg.ExhaustionImbalance {
			avoid(fmt.Sprintf("order flow %.2f against %s", imb, candidate))
		}
	}

	if res.AvoidEntry {
		res.Signals = append(res.Signals, model.Signal{
			Type:      model.SignalAvoidEntry,
			Direction: candidate,
			Strength:  model.Extreme,
		})
	}
	return res
}

func flowStrength(abs float64) model.Strength {
	switch {
	case abs >= 0.8:
		return model.VeryStrong
	case abs >= 0.6:
		return model.Strong
	case abs >= 0.45:
		return model.Moderate
	default:
		return model.Weak
	}
}
