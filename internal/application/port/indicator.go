package port

import "xsig/internal/domain/model"

// Indicator 单个 (symbol, resolution) 的有状态指标
// 对同一输入序列必须产生相同输出，不得读取全局状态
type Indicator interface {
	Name() string
	Update(bar model.Bar) model.IndicatorResult
	// Ready 内部窗口是否已填满
	Ready() bool
}

// IndicatorSet 一个 (symbol, resolution) 下配置的全部指标
type IndicatorSet interface {
	Update(bar model.Bar) map[string]model.IndicatorResult
	Ready() bool
	Names() []string
}

// IndicatorFactory 为新的 (symbol, resolution) 构建全新的指标集合
type IndicatorFactory interface {
	NewSet() (IndicatorSet, error)
}
