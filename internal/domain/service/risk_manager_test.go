package service

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
)

var testSpec = MarketSpec{TickSize: 0.01, LotSize: 0.001, MaxLeverage: 50}

func testRiskConfig() RiskConfig {
	cfg := DefaultRiskConfig()
	cfg.VolatilityAware = false
	cfg.BaseLeverage = 10
	cfg.MinLeverage = 1
	cfg.MaxLeverage = 20
	return cfg
}

func bullish(conf float64) model.AlignedSignal {
	return model.AlignedSignal{Direction: model.Bullish, CombinedScore: 70, Confidence: conf}
}

func bearish(conf float64) model.AlignedSignal {
	return model.AlignedSignal{Direction: model.Bearish, CombinedScore: -70, Confidence: conf}
}

func closeAt(start int64, price float64) model.Bar {
	return model.Bar{Symbol: "XBTUSDTM", Resolution: 15, Start: start, Open: price, High: price, Low: price, Close: price, Volume: 1}
}

func TestRiskOpenLevels(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())

	pos, err := rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, model.Long, pos.Side)
	assert.Equal(t, 10.0, pos.Leverage)
	assert.InDelta(t, 10, pos.Size, 1e-9)
	assert.InDelta(t, 99, pos.StopLoss, 1e-9)
	assert.InDelta(t, 102, pos.TakeProfit, 1e-9)
	assert.Equal(t, pos.StopLoss, pos.InitialStopLoss)
	assert.NotEmpty(t, pos.ID)

	_, err = rm.Open("XBTUSDTM", bullish(90), 101, testSpec, 0, 2)
	assert.True(t, errors.Is(err, ErrPositionExists))

	short, err := rm.Open("ETHUSDTM", bearish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 101, short.StopLoss, 1e-9)
	assert.InDelta(t, 98, short.TakeProfit, 1e-9)
	assert.Equal(t, 2, rm.Count())
}

func TestRiskLeverageFollowsVolatility(t *testing.T) {
	cfg := testRiskConfig()
	cfg.VolatilityAware = true
	cfg.TargetVolatility = 1
	rm := NewRiskManager(cfg)

	assert.Equal(t, 5.0, rm.Leverage(2, testSpec))
	assert.Equal(t, 20.0, rm.Leverage(0.1, testSpec))
	assert.Equal(t, 8.0, rm.Leverage(0.1, MarketSpec{MaxLeverage: 8}))
	assert.Equal(t, 1.0, rm.Leverage(50, testSpec))
	assert.Equal(t, 10.0, rm.Leverage(0, testSpec))
}

// 10 倍杠杆，价格涨 0.6% 即 ROI 6% 触发保本，止损移到 100.1
func TestRiskBreakEvenArming(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())
	_, err := rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)

	assert.Nil(t, rm.OnBar("XBTUSDTM", closeAt(2, 100.3), testSpec))
	pos, _ := rm.Position("XBTUSDTM")
	assert.False(t, pos.BreakEvenArmed)
	assert.InDelta(t, 99, pos.StopLoss, 1e-9)

	assert.Nil(t, rm.OnBar("XBTUSDTM", closeAt(3, 100.6), testSpec))
	pos, _ = rm.Position("XBTUSDTM")
	assert.True(t, pos.BreakEvenArmed)
	assert.False(t, pos.TrailingArmed)
	assert.InDelta(t, 100.1, pos.StopLoss, 1e-9)
	assert.InDelta(t, 6, pos.UnrealizedROI, 1e-6)

	trade := rm.OnBar("XBTUSDTM", closeAt(4, 100.05), testSpec)
	require.NotNil(t, trade)
	assert.Equal(t, model.ExitBreakEven, trade.Reason)
	assert.InDelta(t, 100.05, trade.ExitPrice, 1e-9)
	assert.False(t, rm.HasPosition("XBTUSDTM"))
}

// 保本缓冲按 ROI 换算成价格，随杠杆缩放：5 倍杠杆下 1% ROI 对应 100.2
func TestRiskBreakEvenBufferScalesWithLeverage(t *testing.T) {
	cfg := testRiskConfig()
	cfg.BaseLeverage = 5
	rm := NewRiskManager(cfg)
	pos, err := rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)
	require.Equal(t, 5.0, pos.Leverage)

	assert.Nil(t, rm.OnBar("XBTUSDTM", closeAt(2, 101.2), testSpec))
	cur, _ := rm.Position("XBTUSDTM")
	pos = &cur
	assert.True(t, pos.BreakEvenArmed)
	assert.False(t, pos.TrailingArmed)
	assert.InDelta(t, 100.2, pos.StopLoss, 1e-9)
}

func TestRiskTrailingStop(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())
	_, err := rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)

	require.Nil(t, rm.OnBar("XBTUSDTM", closeAt(2, 100.6), testSpec))
	require.Nil(t, rm.OnBar("XBTUSDTM", closeAt(3, 101.2), testSpec))
	pos, _ := rm.Position("XBTUSDTM")
	assert.True(t, pos.TrailingArmed)
	assert.InDelta(t, 101.2, pos.HighestFavorable, 1e-9)
	// 101.2 * (1 - 5/10/100) = 100.694，多头向下取整到 tick
	assert.InDelta(t, 100.69, pos.StopLoss, 1e-9)

	require.Nil(t, rm.OnBar("XBTUSDTM", closeAt(4, 101.0), testSpec))
	pos, _ = rm.Position("XBTUSDTM")
	assert.InDelta(t, 100.69, pos.StopLoss, 1e-9)

	trade := rm.OnBar("XBTUSDTM", closeAt(5, 100.6), testSpec)
	require.NotNil(t, trade)
	assert.Equal(t, model.ExitTrailingStop, trade.Reason)
	assert.Greater(t, trade.RealizedPnL, 0.0)
}

func TestRiskStopLossAndTakeProfit(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())

	_, err := rm.Open("ETHUSDTM", bearish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)
	trade := rm.OnBar("ETHUSDTM", closeAt(2, 101.5), testSpec)
	require.NotNil(t, trade)
	assert.Equal(t, model.ExitStopLoss, trade.Reason)
	assert.Less(t, trade.RealizedPnL, 0.0)

	_, err = rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)
	trade = rm.OnBar("XBTUSDTM", closeAt(2, 102), testSpec)
	require.NotNil(t, trade)
	assert.Equal(t, model.ExitTakeProfit, trade.Reason)

	// (100*10*0.06 + 102*10*0.06) / 100
	assert.InDelta(t, 1.212, trade.Fees, 1e-9)
	assert.InDelta(t, 20-1.212, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, 18.788, trade.RealizedROI, 1e-9)
	assert.Equal(t, int64(1), trade.OpenedAt)
	assert.Equal(t, int64(2), trade.ClosedAt)
}

func TestRiskOpposingSignalExit(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())
	_, err := rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)

	assert.Nil(t, rm.OnSignal("XBTUSDTM", bullish(99), 100.2, 2))
	assert.Nil(t, rm.OnSignal("XBTUSDTM", bearish(60), 100.2, 2))

	trade := rm.OnSignal("XBTUSDTM", bearish(80), 100.2, 3)
	require.NotNil(t, trade)
	assert.Equal(t, model.ExitOpposingSignal, trade.Reason)

	cfg := testRiskConfig()
	cfg.OpposingSignalExit = false
	rm = NewRiskManager(cfg)
	_, err = rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)
	assert.Nil(t, rm.OnSignal("XBTUSDTM", bearish(99), 100.2, 2))
}

func TestRiskForceCloseAndMoveStop(t *testing.T) {
	rm := NewRiskManager(testRiskConfig())

	_, err := rm.ForceClose("XBTUSDTM", 100, 1)
	assert.True(t, errors.Is(err, ErrNoPosition))

	_, err = rm.Open("XBTUSDTM", bullish(80), 100, testSpec, 0, 1)
	require.NoError(t, err)

	assert.True(t, errors.Is(rm.MoveStop("XBTUSDTM", 98), ErrStopRetreat))
	require.NoError(t, rm.MoveStop("XBTUSDTM", 99.5))
	pos, _ := rm.Position("XBTUSDTM")
	assert.InDelta(t, 99.5, pos.StopLoss, 1e-9)

	trade, err := rm.ForceClose("XBTUSDTM", 100.4, 5)
	require.NoError(t, err)
	assert.Equal(t, model.ExitForced, trade.Reason)
	assert.Equal(t, 0, rm.Count())
}

func TestRiskMaxOpenPositions(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 2
	rm := NewRiskManager(cfg)

	for _, sym := range []string{"A", "B"} {
		_, err := rm.Open(sym, bullish(80), 100, testSpec, 0, 1)
		require.NoError(t, err)
	}
	_, err := rm.Open("C", bullish(80), 100, testSpec, 0, 1)
	assert.True(t, errors.Is(err, ErrMaxPositions))

	_, err = rm.ForceClose("A", 100, 2)
	require.NoError(t, err)
	_, err = rm.Open("C", bullish(80), 100, testSpec, 0, 3)
	assert.NoError(t, err)
}

func TestRiskRejectsTinySize(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MarginPerTrade = 1
	rm := NewRiskManager(cfg)

	_, err := rm.Open("XBTUSDTM", bullish(80), 60000, MarketSpec{TickSize: 1, LotSize: 1}, 0, 1)
	assert.True(t, errors.Is(err, ErrSizeTooSmall))
	assert.False(t, rm.HasPosition("XBTUSDTM"))
}

// 随机行情下止损只会朝有利方向移动
func TestRiskStopNeverRetreats(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, sg := range []model.AlignedSignal{bullish(80), bearish(80)} {
		for run := 0; run < 200; run++ {
			rm := NewRiskManager(testRiskConfig())
			_, err := rm.Open("XBTUSDTM", sg, 100, testSpec, 0, 0)
			require.NoError(t, err)

			price := 100.0
			prev, _ := rm.Position("XBTUSDTM")
			for i := int64(1); i < 200; i++ {
				price *= 1 + (rng.Float64()-0.5)*0.004
				if rm.OnBar("XBTUSDTM", closeAt(i, price), testSpec) != nil {
					break
				}
				cur, ok := rm.Position("XBTUSDTM")
				require.True(t, ok)
				if cur.Side == model.Long {
					require.GreaterOrEqual(t, cur.StopLoss, prev.StopLoss)
				} else {
					require.LessOrEqual(t, cur.StopLoss, prev.StopLoss)
				}
				prev = cur
			}
		}
	}
}

// 同一品种任意时刻最多一个持仓
func TestRiskAtMostOnePosition(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	rm := NewRiskManager(testRiskConfig())
	price := 100.0

	for i := int64(0); i < 5000; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.01
		had := rm.HasPosition("XBTUSDTM")
		switch rng.IntN(4) {
		case 0:
			_, err := rm.Open("XBTUSDTM", bullish(80), price, testSpec, 0, i)
			if had {
				require.True(t, errors.Is(err, ErrPositionExists))
			} else {
				require.NoError(t, err)
			}
		case 1:
			_, err := rm.ForceClose("XBTUSDTM", price, i)
			assert.Equal(t, !had, errors.Is(err, ErrNoPosition))
		default:
			rm.OnBar("XBTUSDTM", closeAt(i, price), testSpec)
		}
		require.LessOrEqual(t, rm.Count(), 1)
		require.Len(t, rm.OpenPositions(), rm.Count())
	}
}

func TestVolatility(t *testing.T) {
	bars := []model.Bar{
		{High: 101, Low: 99, Close: 100},
		{High: 102, Low: 100, Close: 100},
		{Close: 0},
	}
	assert.InDelta(t, 2, Volatility(bars), 1e-9)
	assert.Zero(t, Volatility(nil))
}
