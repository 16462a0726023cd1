package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
	"xsig/internal/infrastructure/exchange"
	"xsig/internal/infrastructure/resilience"
)

type fakeCatalog struct {
	mu        sync.Mutex
	contracts []model.Contract
	err       error
	calls     int
}

func (f *fakeCatalog) FetchContracts(ctx context.Context) ([]model.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Contract(nil), f.contracts...), nil
}

func (f *fakeCatalog) set(cs []model.Contract, err error) {
	f.mu.Lock()
	f.contracts, f.err = cs, err
	f.mu.Unlock()
}

func contract(sym string, turnover float64) model.Contract {
	return model.Contract{
		Symbol:        sym,
		QuoteCurrency: "USDT",
		Status:        "Open",
		LastPrice:     100,
		MarkPrice:     100,
		Turnover24h:   turnover,
		OpenInterest:  1000,
		Multiplier:    1,
	}
}

func newTestManager(cat *fakeCatalog, cfg UniverseConfig) *UniverseManager {
	retry := resilience.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return NewUniverseManager(cfg,
		cat,
		resilience.NewRateLimiter(100, time.Second),
		resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig),
		retry,
	)
}

func TestRankFiltersAndOrders(t *testing.T) {
	cfg := DefaultUniverseConfig()
	cfg.Blacklist = []string{"lunausdtm"}
	cfg.TierSizes = []int{1, 1}

	closed := contract("DEADUSDTM", 9e9)
	closed.Status = "Paused"
	usd := contract("XBTUSDM", 9e9)
	usd.QuoteCurrency = "USD"

	out := Rank([]model.Contract{
		contract("ETHUSDTM", 5e8),
		contract("XBTUSDTM", 9e8),
		contract("LUNAUSDTM", 7e8),
		contract("DOGEUSDTM", 1e8),
		contract("TINYUSDTM", 10),
		closed,
		usd,
	}, cfg)

	require.Len(t, out, 3)
	assert.Equal(t, "XBTUSDTM", out[0].Symbol)
	assert.Equal(t, "ETHUSDTM", out[1].Symbol)
	assert.Equal(t, "DOGEUSDTM", out[2].Symbol)
	for i, in := range out {
		assert.Equal(t, i+1, in.Rank)
		assert.GreaterOrEqual(t, in.LiquidityScore, 0.0)
		assert.LessOrEqual(t, in.LiquidityScore, 100.0)
	}
	assert.Equal(t, []int{1, 2, 3}, []int{out[0].Tier, out[1].Tier, out[2].Tier})
}

// 成交额近似相同时按流动性评分，完全相同时按 symbol
func TestRankTieBreaks(t *testing.T) {
	cfg := DefaultUniverseConfig()

	wide := contract("AAAUSDTM", 1e8)
	wide.BestBidPrice, wide.BestAskPrice = 99, 101
	tight := contract("BBBUSDTM", 1e8*(1-1e-5))
	tight.BestBidPrice, tight.BestAskPrice = 99.99, 100.01

	out := Rank([]model.Contract{wide, tight, contract("DDDUSDTM", 5e7), contract("CCCUSDTM", 5e7)}, cfg)
	require.Len(t, out, 4)
	assert.Equal(t, []string{"BBBUSDTM", "AAAUSDTM", "CCCUSDTM", "DDDUSDTM"},
		[]string{out[0].Symbol, out[1].Symbol, out[2].Symbol, out[3].Symbol})
	assert.Greater(t, out[0].LiquidityScore, out[1].LiquidityScore)
	assert.InDelta(t, 2, out[0].SpreadBps, 1e-6)
}

// 成交额链式接近（A~B、B~C，但 A 与 C 不接近）时排名不随目录顺序变化
func TestRankIndependentOfCatalogOrder(t *testing.T) {
	cfg := DefaultUniverseConfig()

	a := contract("AAAUSDTM", 1_000_000)
	a.OpenInterest = 3000
	b := contract("BBBUSDTM", 1_000_900)
	b.OpenInterest = 2000
	c := contract("CCCUSDTM", 1_001_800)
	c.OpenInterest = 1000

	perms := [][]model.Contract{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	var want []string
	for i, p := range perms {
		out := Rank(p, cfg)
		require.Len(t, out, 3)
		got := []string{out[0].Symbol, out[1].Symbol, out[2].Symbol}
		if i == 0 {
			want = got
			continue
		}
		assert.Equal(t, want, got, "permutation %d", i)
	}
	// CCC 为组首，BBB 与其并列且流动性更高；AAA 超出 CCC 的并列范围
	assert.Equal(t, []string{"BBBUSDTM", "CCCUSDTM", "AAAUSDTM"}, want)
}

func TestSpreadProxyWithoutBook(t *testing.T) {
	c := contract("XBTUSDTM", 1e8)
	c.LastPrice = 100.1
	assert.InDelta(t, 10, spreadBps(c), 1e-6)
}

func TestUniverseRefreshAndDegraded(t *testing.T) {
	cat := &fakeCatalog{}
	cat.set([]model.Contract{contract("XBTUSDTM", 9e8), contract("ETHUSDTM", 5e8)}, nil)
	m := newTestManager(cat, DefaultUniverseConfig())

	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	assert.False(t, m.Health().Ready)
	_, err := m.Top(1, 0)
	assert.ErrorIs(t, err, ErrNoUniverse)

	sub := m.Subscribe()
	require.NoError(t, m.Refresh(context.Background()))
	first := m.Snapshot()
	require.NotNil(t, first)
	assert.Equal(t, 2, first.Len())
	assert.Same(t, first, <-sub)

	top, err := m.Top(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "XBTUSDTM", top[0].Symbol)

	// 刷新失败时继续提供旧快照
	cat.set(nil, &exchange.APIError{Status: 503, Msg: "maintenance"})
	now = now.Add(time.Minute)
	require.NoError(t, m.Refresh(context.Background()))
	assert.Same(t, first, m.Snapshot())

	h := m.Health()
	assert.True(t, h.Ready)
	assert.True(t, h.Degraded)
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.InDelta(t, 60, h.AgeSeconds, 1e-9)
	assert.Contains(t, h.LastError, "maintenance")

	cat.set([]model.Contract{contract("XBTUSDTM", 9e8)}, nil)
	require.NoError(t, m.Refresh(context.Background()))
	h = m.Health()
	assert.False(t, h.Degraded)
	assert.Zero(t, h.ConsecutiveFailures)
	assert.Equal(t, 1, h.Count)
	assert.NotSame(t, first, m.Snapshot())
	// 旧快照未被修改
	assert.Equal(t, 2, first.Len())
}

func TestUniverseRefreshWithoutSnapshotFails(t *testing.T) {
	cat := &fakeCatalog{}
	cat.set(nil, &exchange.APIError{Status: 502, Msg: "bad gateway"})
	m := newTestManager(cat, DefaultUniverseConfig())

	err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.Nil(t, m.Snapshot())
	assert.Equal(t, 2, cat.calls)
}

func TestUniverseNonRetryableNotRetried(t *testing.T) {
	cat := &fakeCatalog{}
	cat.set(nil, &exchange.APIError{Status: 400, Code: "400100", Msg: "bad request"})
	m := newTestManager(cat, DefaultUniverseConfig())

	require.Error(t, m.Refresh(context.Background()))
	assert.Equal(t, 1, cat.calls)
}

func TestSubscribeKeepsLatest(t *testing.T) {
	cat := &fakeCatalog{}
	cat.set([]model.Contract{contract("XBTUSDTM", 9e8)}, nil)
	m := newTestManager(cat, DefaultUniverseConfig())
	sub := m.Subscribe()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Refresh(context.Background()))
	}
	assert.Same(t, m.Snapshot(), <-sub)
	select {
	case <-sub:
		t.Fatal("expected only the latest snapshot")
	default:
	}
}
