package model

// Side 持仓方向
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SideFor 由信号方向得到持仓方向
func SideFor(d Direction) Side {
	if d == Bearish {
		return Short
	}
	return Long
}

// Sign 多 +1，空 -1
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Direction 持仓对应的信号方向
func (s Side) Direction() Direction {
	if s == Short {
		return Bearish
	}
	return Bullish
}

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason 平仓原因
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitBreakEven      ExitReason = "BREAK_EVEN"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitOpposingSignal ExitReason = "OPPOSING_SIGNAL"
	ExitForced         ExitReason = "FORCED"
)

// Position 单个品种的持仓
type Position struct {
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Side             Side           `json:"side"`
	EntryPrice       float64        `json:"entry_price"`
	Size             float64        `json:"size"` // 以标的计的数量
	Leverage         float64        `json:"leverage"`
	InitialStopLoss  float64        `json:"initial_stop_loss"`
	StopLoss         float64        `json:"stop_loss"`
	TakeProfit       float64        `json:"take_profit"`
	BreakEvenArmed   bool           `json:"break_even_armed"`
	TrailingArmed    bool           `json:"trailing_armed"`
	HighestFavorable float64        `json:"highest_favorable_price"`
	UnrealizedROI    float64        `json:"unrealized_roi"`
	Status           PositionStatus `json:"status"`
	OpenedAt         int64          `json:"opened_at"`
	SignalConfidence float64        `json:"signal_confidence"`
}

// Margin 占用保证金
func (p *Position) Margin() float64 {
	if p.Leverage <= 0 {
		return 0
	}
	return p.EntryPrice * p.Size / p.Leverage
}

// ROI 以保证金计的收益率（百分比，不含手续费）
func (p *Position) ROI(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * p.Side.Sign() * p.Leverage * 100
}

// Trade 平仓后的成交记录，交给外部交易历史
type Trade struct {
	ID          string     `json:"id"`
	PositionID  string     `json:"position_id"`
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Size        float64    `json:"size"`
	Leverage    float64    `json:"leverage"`
	Fees        float64    `json:"fees"`
	RealizedPnL float64    `json:"realized_pnl"`
	RealizedROI float64    `json:"realized_roi"`
	Reason      ExitReason `json:"reason"`
	OpenedAt    int64      `json:"opened_at"`
	ClosedAt    int64      `json:"closed_at"`
}
