package service

import (
	"math"
	"sort"
	"strings"

	"xsig/internal/domain/model"
)

// 入场条件名
const (
	CriterionMinScore          = "min_score"
	CriterionMinConfidence     = "min_confidence"
	CriterionMinAgreeing       = "min_agreeing"
	CriterionDivergence        = "divergence"
	CriterionTrendConfirmation = "trend_confirmation"
	CriterionNoAvoidEntry      = "no_avoid_entry"
)

// BonusRule 组合加分：两个不同指标发出同向信号，且类型分别包含 First / Second
type BonusRule struct {
	Name   string  `toml:"name"`
	First  string  `toml:"first"`
	Second string  `toml:"second"`
	Points float64 `toml:"points"`
}

// EntryGate 入场门槛
type EntryGate struct {
	MinScore                 float64 `toml:"min_score"`
	MinConfidence            float64 `toml:"min_confidence"`
	MinAgreeing              int     `toml:"min_agreeing"`
	RequireDivergence        bool    `toml:"require_divergence"`
	RequireTrendConfirmation bool    `toml:"require_trend_confirmation"`
}

// AggregatorConfig 信号聚合配置
type AggregatorConfig struct {
	ScoreCap        float64            `toml:"score_cap"`
	NeutralBand     float64            `toml:"neutral_band"`     // |score| 小于该值视为中性
	StrongThreshold float64            `toml:"strong_threshold"` // |score| 大于该值为 STRONG_*
	IndicatorWeight map[string]float64 `toml:"indicator_weights"`
	DefaultWeight   float64            `toml:"default_weight"`
	SignalWeights   map[string]float64 `toml:"signal_weights"` // 信号类型 -> 权重，默认 1
	Bonuses         []BonusRule        `toml:"bonuses"`
	MicroCap        float64            `toml:"micro_cap"`
	MicroWeight     float64            `toml:"micro_weight"`
	// FullConfidenceAgreeing 同向指标达到该数量后数量因子饱和
	FullConfidenceAgreeing int       `toml:"full_confidence_agreeing"`
	Gate                   EntryGate `toml:"gate"`
}

// DefaultAggregatorConfig 默认聚合配置
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		ScoreCap:        100,
		NeutralBand:     15,
		StrongThreshold: 60,
		IndicatorWeight: map[string]float64{},
		DefaultWeight:   20,
		SignalWeights:   map[string]float64{},
		Bonuses: []BonusRule{
			{Name: "crossover_momentum", First: "crossover", Second: "momentum", Points: 10},
			{Name: "divergence_trend", First: "divergence", Second: "trend", Points: 8},
		},
		MicroCap:               20,
		MicroWeight:            10,
		FullConfidenceAgreeing: 4,
		Gate: EntryGate{
			MinScore:      30,
			MinConfidence: 50,
			MinAgreeing:   2,
		},
	}
}

// strengthMultipliers 强度系数
var strengthMultipliers = map[model.Strength]float64{
	model.Weak:       0.25,
	model.Moderate:   0.5,
	model.Strong:     0.75,
	model.VeryStrong: 1.0,
	model.Extreme:    1.25,
}

const maxStrengthMultiplier = 1.25

// StrengthMultiplier 强度对应的系数，未知强度按 weak
func StrengthMultiplier(s model.Strength) float64 {
	if m, ok := strengthMultipliers[s]; ok {
		return m
	}
	return strengthMultipliers[model.Weak]
}

// SignalAggregator 把一个周期的所有指标输出合成为一个综合信号
// 无状态，只读配置，可并发使用
type SignalAggregator struct {
	cfg AggregatorConfig
}

// NewSignalAggregator 创建聚合器
func NewSignalAggregator(cfg AggregatorConfig) *SignalAggregator {
	def := DefaultAggregatorConfig()
	if cfg.ScoreCap <= 0 {
		cfg.ScoreCap = def.ScoreCap
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = def.DefaultWeight
	}
	if cfg.FullConfidenceAgreeing <= 0 {
		cfg.FullConfidenceAgreeing = def.FullConfidenceAgreeing
	}
	if cfg.MicroWeight <= 0 {
		cfg.MicroWeight = def.MicroWeight
	}
	return &SignalAggregator{cfg: cfg}
}

// Config 返回生效的配置
func (a *SignalAggregator) Config() AggregatorConfig { return a.cfg }

type indicatorNet struct {
	name        string
	net         float64
	strengthSum float64
	signals     int
}

// Aggregate 计算综合信号；micro 为 nil 表示非实盘模式
func (a *SignalAggregator) Aggregate(results map[string]model.IndicatorResult, micro *model.MicrostructureResult) model.CompositeSignal {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	// 按名称排序保证结果确定
	sort.Strings(names)

	out := model.CompositeSignal{
		IndicatorContributions: make(map[string]float64, len(names)),
	}

	nets := make([]indicatorNet, 0, len(names))
	var total float64
	for _, name := range names {
		res := results[name]
		maxW := a.weight(name)
		n := indicatorNet{name: name}
		for _, sig := range res.Signals {
			sign := sig.Direction.Sign()
			if sign == 0 {
				continue
			}
			mult := StrengthMultiplier(sig.Strength)
			c := sign * a.signalWeight(sig.Type) * mult * maxW
			n.net += c
			n.strengthSum += mult
			n.signals++
			out.ContributingSignals = append(out.ContributingSignals, model.ContributingSignal{
				Indicator:    name,
				Signal:       sig,
				Contribution: c,
			})
			if isDivergence(sig.Type) {
				out.DivergenceSignals++
			}
		}
		n.net = clamp(n.net, -maxW, maxW)
		out.IndicatorContributions[name] = n.net
		total += n.net
		nets = append(nets, n)
	}

	total += a.bonus(out.ContributingSignals)

	if micro != nil {
		total += a.microScore(micro)
		out.AvoidEntry = micro.AvoidEntry
	}

	out.Score = clamp(total, -a.cfg.ScoreCap, a.cfg.ScoreCap)
	out.Type = a.classify(out.Score)

	dir := out.Type.Direction()
	out.IndicatorsAgreeing, out.Confidence = a.confidence(nets, dir)
	out.SatisfiedEntryCriteria, out.EntryReady = a.evaluateGate(out, dir)
	return out
}

func (a *SignalAggregator) weight(name string) float64 {
	if w, ok := a.cfg.IndicatorWeight[name]; ok && w > 0 {
		return w
	}
	return a.cfg.DefaultWeight
}

func (a *SignalAggregator) signalWeight(typ string) float64 {
	if w, ok := a.cfg.SignalWeights[typ]; ok {
		return w
	}
	return 1
}

// bonus 组合加分：方向按各规则匹配信号的方向计入
func (a *SignalAggregator) bonus(signals []model.ContributingSignal) float64 {
	var total float64
	for _, rule := range a.cfg.Bonuses {
		if rule.First == "" || rule.Second == "" || rule.Points == 0 {
			continue
		}
		for _, dir := range []model.Direction{model.Bullish, model.Bearish} {
			if coOccurs(signals, dir, rule.First, rule.Second) {
				total += dir.Sign() * rule.Points
			}
		}
	}
	return total
}

func coOccurs(signals []model.ContributingSignal, dir model.Direction, first, second string) bool {
	for _, s1 := range signals {
		if s1.Signal.Direction != dir || !strings.Contains(s1.Signal.Type, first) {
			continue
		}
		for _, s2 := range signals {
			if s2.Indicator == s1.Indicator || s2.Signal.Direction != dir {
				continue
			}
			if strings.Contains(s2.Signal.Type, second) {
				return true
			}
		}
	}
	return false
}

// microScore 微观结构子分数，单独封顶
func (a *SignalAggregator) microScore(micro *model.MicrostructureResult) float64 {
	var s float64
	for _, sig := range micro.Signals {
		if sig.Type == model.SignalAvoidEntry {
			continue
		}
		s += sig.Direction.Sign() * StrengthMultiplier(sig.Strength) * a.cfg.MicroWeight
	}
	return clamp(s, -a.cfg.MicroCap, a.cfg.MicroCap)
}

func (a *SignalAggregator) classify(score float64) model.DirectionalType {
	abs := math.Abs(score)
	switch {
	case abs < a.cfg.NeutralBand || score == 0:
		return model.Neutral
	case score > 0 && a.cfg.StrongThreshold > 0 && abs >= a.cfg.StrongThreshold:
		return model.StrongBuy
	case score > 0:
		return model.Buy
	case a.cfg.StrongThreshold > 0 && abs >= a.cfg.StrongThreshold:
		return model.StrongSell
	default:
		return model.Sell
	}
}

// confidence 由同向指标的数量与强度决定，而不只看分数大小
// 0.5 * 同向占比 + 0.3 * 同向平均强度 + 0.2 * 数量饱和度
func (a *SignalAggregator) confidence(nets []indicatorNet, dir model.Direction) (int, float64) {
	if dir == "" {
		return 0, 0
	}
	sign := dir.Sign()

	var active, agreeing int
	var strength float64
	for _, n := range nets {
		if n.net == 0 {
			continue
		}
		active++
		if n.net*sign > 0 {
			agreeing++
			strength += n.strengthSum / float64(n.signals)
		}
	}
	if agreeing == 0 {
		return 0, 0
	}

	ratio := float64(agreeing) / float64(active)
	avgStrength := strength / float64(agreeing) / maxStrengthMultiplier
	saturation := math.Min(1, float64(agreeing)/float64(a.cfg.FullConfidenceAgreeing))

	conf := 100 * (0.5*ratio + 0.3*avgStrength + 0.2*saturation)
	return agreeing, clamp(conf, 0, 100)
}

func (a *SignalAggregator) evaluateGate(c model.CompositeSignal, dir model.Direction) ([]string, bool) {
	g := a.cfg.Gate
	var satisfied []string
	ready := dir != ""

	check := func(name string, ok bool) {
		if ok {
			satisfied = append(satisfied, name)
		} else {
			ready = false
		}
	}

	check(CriterionMinScore, math.Abs(c.Score) >= g.MinScore)
	check(CriterionMinConfidence, c.Confidence >= g.MinConfidence)
	check(CriterionMinAgreeing, c.IndicatorsAgreeing >= g.MinAgreeing)

	divergence := hasSignal(c.ContributingSignals, dir, isDivergence)
	if g.RequireDivergence {
		check(CriterionDivergence, divergence)
	} else if divergence {
		satisfied = append(satisfied, CriterionDivergence)
	}

	trend := hasSignal(c.ContributingSignals, dir, isTrend)
	if g.RequireTrendConfirmation {
		check(CriterionTrendConfirmation, trend)
	} else if trend {
		satisfied = append(satisfied, CriterionTrendConfirmation)
	}

	check(CriterionNoAvoidEntry, !c.AvoidEntry)
	return satisfied, ready
}

func hasSignal(signals []model.ContributingSignal, dir model.Direction, match func(string) bool) bool {
	if dir == "" {
		return false
	}
	for _, s := range signals {
		if s.Signal.Direction == dir && match(s.Signal.Type) {
			return true
		}
	}
	return false
}

func isDivergence(typ string) bool { return strings.Contains(typ, "divergence") }

func isTrend(typ string) bool { return strings.Contains(typ, "trend") }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
