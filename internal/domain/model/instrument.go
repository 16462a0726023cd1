package model

import "time"

// ========== Instrument Models ==========

// Contract 交易所合约目录中的原始合约描述
type Contract struct {
	Symbol        string  `json:"symbol"`
	BaseCurrency  string  `json:"base_currency"`
	QuoteCurrency string  `json:"quote_currency"`
	Status        string  `json:"status"`
	LastPrice     float64 `json:"last_price"`
	MarkPrice     float64 `json:"mark_price"`
	IndexPrice    float64 `json:"index_price"`
	Volume24h     float64 `json:"volume_24h"`
	Turnover24h   float64 `json:"turnover_24h"`
	OpenInterest  float64 `json:"open_interest"` // 持仓量（张）
	Multiplier    float64 `json:"multiplier"`    // 合约乘数
	LotSize       float64 `json:"lot_size"`
	TickSize      float64 `json:"tick_size"`
	MaxLeverage   float64 `json:"max_leverage"`
	FundingRate   float64 `json:"funding_rate"`
	NextFundingMs int64   `json:"next_funding_ms"` // 距下次资金费结算（毫秒）
	BestBidPrice  float64 `json:"best_bid_price,omitempty"`
	BestAskPrice  float64 `json:"best_ask_price,omitempty"`
}

// Tradable 合约是否处于可交易状态
func (c Contract) Tradable() bool {
	return c.Status == "Open"
}

// Instrument 经过过滤和排名的可交易合约
// 每个刷新周期整体生成，不做原地修改
type Instrument struct {
	Contract

	SpreadBps      float64 `json:"spread_bps"`      // 价差（基点）
	LiquidityScore float64 `json:"liquidity_score"` // 0-100
	Tier           int     `json:"tier"`            // 1-4
	Rank           int     `json:"rank"`            // 从 1 开始
}

// Universe 交易品种快照
type Universe struct {
	Instruments []Instrument          `json:"instruments"`
	bySymbol    map[string]Instrument // symbol -> instrument
	UpdatedAt   time.Time             `json:"updated_at"`
}

// NewUniverse 构建快照并建立索引
func NewUniverse(instruments []Instrument, updatedAt time.Time) *Universe {
	idx := make(map[string]Instrument, len(instruments))
	for _, in := range instruments {
		idx[in.Symbol] = in
	}
	return &Universe{Instruments: instruments, bySymbol: idx, UpdatedAt: updatedAt}
}

// Get 按 symbol 查询
func (u *Universe) Get(symbol string) (Instrument, bool) {
	if u == nil {
		return Instrument{}, false
	}
	in, ok := u.bySymbol[symbol]
	return in, ok
}

// Len 品种数量
func (u *Universe) Len() int {
	if u == nil {
		return 0
	}
	return len(u.Instruments)
}

// Symbols 按排名返回前 n 个且 tier <= maxTier 的 symbol（n <= 0 表示不限）
func (u *Universe) Symbols(n, maxTier int) []string {
	if u == nil {
		return nil
	}
	out := make([]string, 0, len(u.Instruments))
	for _, in := range u.Instruments {
		if maxTier > 0 && in.Tier > maxTier {
			continue
		}
		out = append(out, in.Symbol)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}
