package service

import (
	"math"

	"xsig/internal/domain/model"
)

// RejectReason 对齐被拒绝的原因，空字符串表示接受
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectAvoidEntry      RejectReason = "avoid_entry"
	RejectPrimaryNeutral  RejectReason = "primary_neutral"
	RejectPrimaryScore    RejectReason = "primary_score_below_min"
	RejectDivergent       RejectReason = "divergent_alignment"
	RejectScoreDivergence RejectReason = "score_divergence_exceeded"
	RejectConfidence      RejectReason = "confidence_below_min"
	RejectEntryThreshold  RejectReason = "combined_below_entry_threshold"
)

// ReconcilerConfig 双周期对齐配置
type ReconcilerConfig struct {
	PrimaryMinScore      float64 `toml:"primary_min_score"`
	RequireFullAlignment bool    `toml:"require_full_alignment"`
	MaxScoreDivergence   float64 `toml:"max_score_divergence"`

	// 入场周期权重：完全一致 / 部分一致
	PrimaryWeightFull    float64 `toml:"primary_weight_full"`
	PrimaryWeightPartial float64 `toml:"primary_weight_partial"`

	MinConfidence  float64 `toml:"min_confidence"`
	EntryThreshold float64 `toml:"entry_threshold"`

	// 置信度调整
	FullAlignmentBonus    float64 `toml:"full_alignment_bonus"`
	PartialAlignmentBonus float64 `toml:"partial_alignment_bonus"`
	DivergentPenalty      float64 `toml:"divergent_penalty"` // 负数
	DivergenceSignalBonus float64 `toml:"divergence_signal_bonus"`
	AgreementBonus        float64 `toml:"agreement_bonus"` // 每个超出 AgreementBase 的同向指标
	AgreementBase         int     `toml:"agreement_base"`
	AgreementBonusCap     float64 `toml:"agreement_bonus_cap"`

	// 排序用加分，只影响 AdjustedScore
	RankingBonusFull    float64 `toml:"ranking_bonus_full"`
	RankingBonusPartial float64 `toml:"ranking_bonus_partial"`
}

// DefaultReconcilerConfig 默认对齐配置
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PrimaryMinScore:       30,
		RequireFullAlignment:  true,
		MaxScoreDivergence:    60,
		PrimaryWeightFull:     0.7,
		PrimaryWeightPartial:  0.85,
		MinConfidence:         55,
		EntryThreshold:        45,
		FullAlignmentBonus:    10,
		PartialAlignmentBonus: 0,
		DivergentPenalty:      -15,
		DivergenceSignalBonus: 3,
		AgreementBonus:        1,
		AgreementBase:         3,
		AgreementBonusCap:     5,
		RankingBonusFull:      10,
		RankingBonusPartial:   5,
	}
}

// TimeframeReconciler 把入场周期（primary）和趋势确认周期（secondary）的综合信号合成为一个决定
type TimeframeReconciler struct {
	cfg ReconcilerConfig
}

// NewTimeframeReconciler 创建对齐器
func NewTimeframeReconciler(cfg ReconcilerConfig) *TimeframeReconciler {
	if cfg.PrimaryWeightFull <= 0 || cfg.PrimaryWeightFull > 1 {
		cfg.PrimaryWeightFull = 0.7
	}
	if cfg.PrimaryWeightPartial <= 0 || cfg.PrimaryWeightPartial > 1 {
		cfg.PrimaryWeightPartial = 0.85
	}
	return &TimeframeReconciler{cfg: cfg}
}

// Classify 一致性分类
func Classify(primary, secondary model.CompositeSignal) model.AlignmentClass {
	pd, sd := primary.Type.Direction(), secondary.Type.Direction()
	switch {
	case pd != "" && sd != "" && pd == sd:
		return model.AlignmentFull
	case pd != "" && sd != "":
		return model.AlignmentDivergent
	default:
		// 恰好一个中性；两者都中性时也归为 partial，之后会被分数门槛拒绝
		return model.AlignmentPartial
	}
}

// Reconcile 返回对齐后的信号，拒绝时返回 nil 和原因
func (r *TimeframeReconciler) Reconcile(primary, secondary model.CompositeSignal) (*model.AlignedSignal, RejectReason) {
	cfg := r.cfg

	if primary.AvoidEntry {
		return nil, RejectAvoidEntry
	}
	if primary.Neutral() {
		return nil, RejectPrimaryNeutral
	}
	if math.Abs(primary.Score) < cfg.PrimaryMinScore {
		return nil, RejectPrimaryScore
	}

	class := Classify(primary, secondary)
	if class == model.AlignmentDivergent && cfg.RequireFullAlignment {
		return nil, RejectDivergent
	}
	if !secondary.Neutral() && cfg.MaxScoreDivergence > 0 &&
		math.Abs(primary.Score-secondary.Score) > cfg.MaxScoreDivergence {
		return nil, RejectScoreDivergence
	}

	w := cfg.PrimaryWeightFull
	if class == model.AlignmentPartial {
		w = cfg.PrimaryWeightPartial
	}
	combined := w*primary.Score + (1-w)*secondary.Score

	conf := w*primary.Confidence + (1-w)*secondary.Confidence
	switch class {
	case model.AlignmentFull:
		conf += cfg.FullAlignmentBonus
	case model.AlignmentPartial:
		conf += cfg.PartialAlignmentBonus
	case model.AlignmentDivergent:
		conf += cfg.DivergentPenalty
	}
	conf += float64(primary.DivergenceSignals+secondary.DivergenceSignals) * cfg.DivergenceSignalBonus
	if extra := primary.IndicatorsAgreeing - cfg.AgreementBase; extra > 0 && cfg.AgreementBonus > 0 {
		conf += math.Min(float64(extra)*cfg.AgreementBonus, cfg.AgreementBonusCap)
	}
	conf = clamp(conf, 0, 100)
	if conf < cfg.MinConfidence {
		return nil, RejectConfidence
	}

	if math.Abs(combined) <= cfg.EntryThreshold {
		return nil, RejectEntryThreshold
	}

	dir := model.Bullish
	if combined < 0 {
		dir = model.Bearish
	}

	var ranking float64
	switch class {
	case model.AlignmentFull:
		ranking = cfg.RankingBonusFull
	case model.AlignmentPartial:
		ranking = cfg.RankingBonusPartial
	}

	return &model.AlignedSignal{
		Direction:      dir,
		CombinedScore:  combined,
		AdjustedScore:  combined + dir.Sign()*math.Max(0, ranking),
		Confidence:     conf,
		PrimaryScore:   primary.Score,
		SecondaryScore: secondary.Score,
		Alignment:      class,
	}, RejectNone
}
