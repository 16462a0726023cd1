package service

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"xsig/internal/domain/model"
)

var (
	// ErrPositionExists 同一品种已有持仓
	ErrPositionExists = errors.New("position already open for symbol")
	// ErrNoPosition 品种没有持仓
	ErrNoPosition = errors.New("no open position for symbol")
	// ErrStopRetreat 止损向不利方向移动
	ErrStopRetreat = errors.New("stop loss would move against the position")
	// ErrSizeTooSmall 计算出的仓位小于最小下单量
	ErrSizeTooSmall = errors.New("position size below lot size")
	// ErrMaxPositions 并发持仓数已达上限
	ErrMaxPositions = errors.New("max open positions reached")
	// ErrInvalidPrice 价格非法
	ErrInvalidPrice = errors.New("invalid price")
)

// roiEpsilon 吸收 ROI 计算中的浮点误差，100.6 对 100 在 10 倍杠杆下算作 6%
const roiEpsilon = 1e-9

// RiskConfig 风险参数（ROI 均为百分比，按保证金计）
type RiskConfig struct {
	MarginPerTrade   float64 `toml:"margin_per_trade"`   // 每笔保证金（计价货币）
	MaxOpenPositions int     `toml:"max_open_positions"` // 0 表示不限

	BaseLeverage     float64 `toml:"base_leverage"`
	MinLeverage      float64 `toml:"min_leverage"`
	MaxLeverage      float64 `toml:"max_leverage"`
	VolatilityAware  bool    `toml:"volatility_aware"`
	TargetVolatility float64 `toml:"target_volatility"` // 目标 K 线平均振幅（%）

	StopLossROI   float64 `toml:"stop_loss_roi"`
	TakeProfitROI float64 `toml:"take_profit_roi"`

	BreakEvenEnabled       bool    `toml:"break_even_enabled"`
	BreakEvenActivationROI float64 `toml:"break_even_activation_roi"`
	// BreakEvenBufferROI 保本止损高出入场价的幅度，单位是 ROI 而不是价格百分比：
	// 10 倍杠杆下 1.0 对应价格 +0.1%
	BreakEvenBufferROI float64 `toml:"break_even_buffer_roi"`

	TrailingEnabled       bool    `toml:"trailing_enabled"`
	TrailingActivationROI float64 `toml:"trailing_activation_roi"`
	TrailingDistanceROI   float64 `toml:"trailing_distance_roi"`

	OpposingSignalExit    bool    `toml:"opposing_signal_exit"`
	OpposingMinConfidence float64 `toml:"opposing_min_confidence"`

	EntryFeePct float64 `toml:"entry_fee_pct"` // 名义价值百分比
	ExitFeePct  float64 `toml:"exit_fee_pct"`
}

// DefaultRiskConfig 默认风险参数
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MarginPerTrade:         100,
		MaxOpenPositions:       5,
		BaseLeverage:           10,
		MinLeverage:            2,
		MaxLeverage:            20,
		VolatilityAware:        true,
		TargetVolatility:       1.0,
		StopLossROI:            10,
		TakeProfitROI:          20,
		BreakEvenEnabled:       true,
		BreakEvenActivationROI: 6,
		BreakEvenBufferROI:     1,
		TrailingEnabled:        true,
		TrailingActivationROI:  12,
		TrailingDistanceROI:    5,
		OpposingSignalExit:     true,
		OpposingMinConfidence:  75,
		EntryFeePct:            0.06,
		ExitFeePct:             0.06,
	}
}

// MarketSpec 下单精度
type MarketSpec struct {
	TickSize    float64
	LotSize     float64 // 以标的计的最小数量
	MaxLeverage float64
}

// SpecFor 从品种快照得到下单精度
func SpecFor(in model.Instrument) MarketSpec {
	lot := in.LotSize
	if in.Multiplier > 0 {
		lot *= in.Multiplier
	}
	return MarketSpec{TickSize: in.TickSize, LotSize: lot, MaxLeverage: in.MaxLeverage}
}

// RiskManager 持仓风险状态机
// OPEN(ARMED=false) -> OPEN(ARMED) -> OPEN(TRAILING) -> CLOSED，任意状态可直接止损/止盈/强平
// 每个品种的持仓只由处理该品种 K 线的 worker 修改；锁只保护 map 和跨 goroutine 的只读快照
type RiskManager struct {
	mu        sync.RWMutex
	cfg       RiskConfig
	positions map[string]*model.Position // symbol -> OPEN position
}

// NewRiskManager 创建风险管理器
func NewRiskManager(cfg RiskConfig) *RiskManager {
	if cfg.BaseLeverage <= 0 {
		cfg.BaseLeverage = 1
	}
	if cfg.MinLeverage <= 0 {
		cfg.MinLeverage = 1
	}
	if cfg.MaxLeverage < cfg.MinLeverage {
		cfg.MaxLeverage = cfg.MinLeverage
	}
	return &RiskManager{
		cfg:       cfg,
		positions: make(map[string]*model.Position),
	}
}

// Config 生效的风险参数
func (rm *RiskManager) Config() RiskConfig { return rm.cfg }

// Leverage 根据波动率计算杠杆，波动越大杠杆越低
func (rm *RiskManager) Leverage(volatility float64, spec MarketSpec) float64 {
	lev := rm.cfg.BaseLeverage
	if rm.cfg.VolatilityAware && volatility > 0 && rm.cfg.TargetVolatility > 0 {
		lev = rm.cfg.BaseLeverage * rm.cfg.TargetVolatility / volatility
	}
	hi := rm.cfg.MaxLeverage
	if spec.MaxLeverage > 0 && spec.MaxLeverage < hi {
		hi = spec.MaxLeverage
	}
	lo := math.Min(rm.cfg.MinLeverage, hi)
	return math.Floor(clamp(lev, lo, hi))
}

// StopLossPrice SL = entry * (1 - SL_ROI/leverage/100)，空头对称
func StopLossPrice(side model.Side, entry, roi, leverage float64) float64 {
	return entry * (1 - side.Sign()*roi/leverage/100)
}

// TakeProfitPrice TP = entry * (1 + TP_ROI/leverage/100)，空头对称
func TakeProfitPrice(side model.Side, entry, roi, leverage float64) float64 {
	return entry * (1 + side.Sign()*roi/leverage/100)
}

// Open 根据对齐信号开仓
func (rm *RiskManager) Open(symbol string, sig model.AlignedSignal, price float64, spec MarketSpec, volatility float64, at int64) (*model.Position, error) {
	if price <= 0 || math.IsNaN(price) {
		return nil, ErrInvalidPrice
	}
	if sig.Direction != model.Bullish && sig.Direction != model.Bearish {
		return nil, fmt.Errorf("open %s: invalid direction %q", symbol, sig.Direction)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.positions[symbol]; ok {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrPositionExists)
	}
	if rm.cfg.MaxOpenPositions > 0 && len(rm.positions) >= rm.cfg.MaxOpenPositions {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrMaxPositions)
	}

	side := model.SideFor(sig.Direction)
	lev := rm.Leverage(volatility, spec)
	size := roundDown(rm.cfg.MarginPerTrade*lev/price, spec.LotSize)
	if size <= 0 {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrSizeTooSmall)
	}

	sl := roundStop(side, StopLossPrice(side, price, rm.cfg.StopLossROI, lev), spec.TickSize)
	var tp float64
	if rm.cfg.TakeProfitROI > 0 {
		tp = roundTarget(side, TakeProfitPrice(side, price, rm.cfg.TakeProfitROI, lev), spec.TickSize)
	}

	pos := &model.Position{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       price,
		Size:             size,
		Leverage:         lev,
		InitialStopLoss:  sl,
		StopLoss:         sl,
		TakeProfit:       tp,
		HighestFavorable: price,
		Status:           model.PositionOpen,
		OpenedAt:         at,
		SignalConfidence: sig.Confidence,
	}
	rm.positions[symbol] = pos
	out := *pos
	return &out, nil
}

// OnBar 用收盘价推进状态机：更新 ROI -> 保本 -> 移动止损 -> 止损 / 止盈
// 持仓仍打开时返回 nil
func (rm *RiskManager) OnBar(symbol string, bar model.Bar, spec MarketSpec) *model.Trade {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pos, ok := rm.positions[symbol]
	if !ok || bar.Close <= 0 {
		return nil
	}
	price := bar.Close
	pos.UnrealizedROI = pos.ROI(price)

	if (price-pos.HighestFavorable)*pos.Side.Sign() > 0 {
		pos.HighestFavorable = price
	}

	// 同一根 K 线上保本先于移动止损；移动止损只会在保本价基础上继续收紧
	if rm.cfg.BreakEvenEnabled && !pos.BreakEvenArmed && pos.UnrealizedROI >= rm.cfg.BreakEvenActivationROI-roiEpsilon {
		be := roundStop(pos.Side, pos.EntryPrice*(1+pos.Side.Sign()*rm.cfg.BreakEvenBufferROI/pos.Leverage/100), spec.TickSize)
		if improves(pos.Side, pos.StopLoss, be) {
			pos.StopLoss = be
		}
		pos.BreakEvenArmed = true
	}

	if rm.cfg.TrailingEnabled {
		if !pos.TrailingArmed && pos.UnrealizedROI >= rm.cfg.TrailingActivationROI-roiEpsilon {
			pos.TrailingArmed = true
		}
		if pos.TrailingArmed {
			trail := roundStop(pos.Side, pos.HighestFavorable*(1-pos.Side.Sign()*rm.cfg.TrailingDistanceROI/pos.Leverage/100), spec.TickSize)
			if improves(pos.Side, pos.StopLoss, trail) {
				pos.StopLoss = trail
			}
		}
	}

	switch {
	case stopHit(pos, price):
		return rm.closeLocked(pos, price, rm.stopReason(pos), bar.Start)
	case takeProfitHit(pos, price):
		return rm.closeLocked(pos, price, model.ExitTakeProfit, bar.Start)
	}
	return nil
}

// OnSignal 高置信度反向信号平仓（若启用）
func (rm *RiskManager) OnSignal(symbol string, sig model.AlignedSignal, price float64, at int64) *model.Trade {
	if !rm.cfg.OpposingSignalExit || price <= 0 {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pos, ok := rm.positions[symbol]
	if !ok {
		return nil
	}
	if sig.Direction != pos.Side.Direction().Opposite() || sig.Confidence < rm.cfg.OpposingMinConfidence {
		return nil
	}
	return rm.closeLocked(pos, price, model.ExitOpposingSignal, at)
}

// ForceClose 外部强制平仓（停机 / 人工）
func (rm *RiskManager) ForceClose(symbol string, price float64, at int64) (*model.Trade, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pos, ok := rm.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("force close %s: %w", symbol, ErrNoPosition)
	}
	return rm.closeLocked(pos, price, model.ExitForced, at), nil
}

// MoveStop 手动移动止损，不允许向不利方向移动
func (rm *RiskManager) MoveStop(symbol string, stop float64) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pos, ok := rm.positions[symbol]
	if !ok {
		return fmt.Errorf("move stop %s: %w", symbol, ErrNoPosition)
	}
	if stop <= 0 || !improves(pos.Side, pos.StopLoss, stop) && stop != pos.StopLoss {
		return fmt.Errorf("move stop %s from %.8f to %.8f: %w", symbol, pos.StopLoss, stop, ErrStopRetreat)
	}
	pos.StopLoss = stop
	return nil
}

// Position 当前持仓快照
func (rm *RiskManager) Position(symbol string) (model.Position, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	pos, ok := rm.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// HasPosition 是否有持仓
func (rm *RiskManager) HasPosition(symbol string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.positions[symbol]
	return ok
}

// OpenPositions 全部持仓快照
func (rm *RiskManager) OpenPositions() []model.Position {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]model.Position, 0, len(rm.positions))
	for _, p := range rm.positions {
		out = append(out, *p)
	}
	return out
}

// Count 持仓数量
func (rm *RiskManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.positions)
}

func (rm *RiskManager) stopReason(pos *model.Position) model.ExitReason {
	switch {
	case pos.TrailingArmed:
		return model.ExitTrailingStop
	case pos.BreakEvenArmed:
		return model.ExitBreakEven
	default:
		return model.ExitStopLoss
	}
}

// closeLocked 结算并移除持仓，调用方持有锁
func (rm *RiskManager) closeLocked(pos *model.Position, exit float64, reason model.ExitReason, at int64) *model.Trade {
	fees := (pos.EntryPrice*pos.Size*rm.cfg.EntryFeePct + exit*pos.Size*rm.cfg.ExitFeePct) / 100
	pnl := (exit-pos.EntryPrice)*pos.Size*pos.Side.Sign() - fees
	var roi float64
	if m := pos.Margin(); m > 0 {
		roi = pnl / m * 100
	}

	pos.Status = model.PositionClosed
	delete(rm.positions, pos.Symbol)

	return &model.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		Size:        pos.Size,
		Leverage:    pos.Leverage,
		Fees:        fees,
		RealizedPnL: pnl,
		RealizedROI: roi,
		Reason:      reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    at,
	}
}

// improves 新止损是否对持仓更有利（多头更高，空头更低）
func improves(side model.Side, current, next float64) bool {
	if current <= 0 {
		return true
	}
	return (next-current)*side.Sign() > 0
}

func stopHit(pos *model.Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == model.Long {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func takeProfitHit(pos *model.Position, price float64) bool {
	if pos.TakeProfit <= 0 {
		return false
	}
	if pos.Side == model.Long {
		return price >= pos.TakeProfit
	}
	return price <= pos.TakeProfit
}

// roundStop 止损价按 tick 取整，朝不利于持仓的方向（多头向下，空头向上）
func roundStop(side model.Side, price, tick float64) float64 {
	return roundToTick(price, tick, side == model.Short)
}

// roundTarget 止盈价按 tick 取整，远离入场价
func roundTarget(side model.Side, price, tick float64) float64 {
	return roundToTick(price, tick, side == model.Long)
}

func roundToTick(price, tick float64, up bool) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	// 先截掉浮点噪声，避免 100.09999999 被向下取到 100.09
	q := decimal.NewFromFloat(price).Div(t).Round(8)
	if up {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	v, _ := q.Mul(t).Float64()
	return v
}

// roundDown 按最小数量向下取整
func roundDown(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	l := decimal.NewFromFloat(lot)
	v, _ := decimal.NewFromFloat(qty).Div(l).Floor().Mul(l).Float64()
	return v
}

// Volatility K 线平均振幅（%），用于波动率自适应杠杆
func Volatility(bars []model.Bar) float64 {
	var sum float64
	n := 0
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		sum += (b.High - b.Low) / b.Close * 100
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
