package model

// DirectionalType 综合信号方向分级
type DirectionalType string

const (
	StrongBuy  DirectionalType = "STRONG_BUY"
	Buy        DirectionalType = "BUY"
	Neutral    DirectionalType = "NEUTRAL"
	Sell       DirectionalType = "SELL"
	StrongSell DirectionalType = "STRONG_SELL"
)

// Direction 把分级映射为方向，中性返回空
func (t DirectionalType) Direction() Direction {
	switch t {
	case StrongBuy, Buy:
		return Bullish
	case StrongSell, Sell:
		return Bearish
	}
	return ""
}

// ContributingSignal 对综合分数有贡献的指标信号
type ContributingSignal struct {
	Indicator    string  `json:"indicator"`
	Signal       Signal  `json:"signal"`
	Contribution float64 `json:"contribution"`
}

// CompositeSignal 单周期内所有指标的加权聚合结果
type CompositeSignal struct {
	Score                  float64              `json:"score"`
	Type                   DirectionalType      `json:"type"`
	Confidence             float64              `json:"confidence"` // 0-100
	IndicatorsAgreeing     int                  `json:"indicators_agreeing"`
	DivergenceSignals      int                  `json:"divergence_signals"`
	SatisfiedEntryCriteria []string             `json:"satisfied_entry_criteria"`
	EntryReady             bool                 `json:"entry_ready"`
	AvoidEntry             bool                 `json:"avoid_entry"`
	IndicatorContributions map[string]float64   `json:"indicator_contributions"`
	ContributingSignals    []ContributingSignal `json:"contributing_signals"`
}

// Neutral 是否为中性
func (c CompositeSignal) Neutral() bool {
	return c.Type.Direction() == ""
}

// AlignmentClass 两个周期的一致性分类
type AlignmentClass string

const (
	AlignmentFull      AlignmentClass = "full"
	AlignmentPartial   AlignmentClass = "partial"
	AlignmentDivergent AlignmentClass = "divergent"
)

// AlignedSignal 双周期对齐后的可交易信号
type AlignedSignal struct {
	Direction      Direction      `json:"direction"`
	CombinedScore  float64        `json:"combined_score"`
	AdjustedScore  float64        `json:"adjusted_score"` // 含排序用对齐加分
	Confidence     float64        `json:"confidence"`
	PrimaryScore   float64        `json:"primary_score"`
	SecondaryScore float64        `json:"secondary_score"`
	Alignment      AlignmentClass `json:"alignment"`
}

// SignalEvent 发布给下游订阅者的信号事件
type SignalEvent struct {
	Symbol    string        `json:"symbol"`
	Primary   Resolution    `json:"primary"`
	Secondary Resolution    `json:"secondary"`
	Price     float64       `json:"price"`
	Timestamp int64         `json:"ts_ms"`
	Signal    AlignedSignal `json:"signal"`
}
