package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
	"xsig/internal/infrastructure/exchange"
	"xsig/internal/infrastructure/resilience"
)

// ErrNoUniverse 尚未成功刷新过
var ErrNoUniverse = errors.New("instrument universe not loaded")

// UniverseWeights 流动性评分权重
type UniverseWeights struct {
	Turnover     float64 `toml:"turnover"`
	OpenInterest float64 `toml:"open_interest"`
	Spread       float64 `toml:"spread"`
}

// UniverseConfig 交易品种筛选与排名配置
type UniverseConfig struct {
	QuoteCurrency string          `toml:"quote_currency"`
	Blacklist     []string        `toml:"blacklist"`
	MinTurnover   float64         `toml:"min_turnover"` // 24h 成交额下限
	TierSizes     []int           `toml:"tier_sizes"`   // 每档数量，剩余归入最后一档
	Weights       UniverseWeights `toml:"weights"`
	MaxSpreadBps  float64         `toml:"max_spread_bps"` // 价差评分归零的位置
	TieEpsilon    float64         `toml:"tie_epsilon"`    // 成交额相对差小于该值视为并列
	Interval      time.Duration   `toml:"interval"`
	StaleAfter    time.Duration   `toml:"stale_after"` // 快照超过该时长视为降级
}

// DefaultUniverseConfig 默认配置
func DefaultUniverseConfig() UniverseConfig {
	return UniverseConfig{
		QuoteCurrency: "USDT",
		MinTurnover:   1_000_000,
		TierSizes:     []int{10, 20, 30},
		Weights:       UniverseWeights{Turnover: 0.5, OpenInterest: 0.3, Spread: 0.2},
		MaxSpreadBps:  50,
		TieEpsilon:    0.001,
		Interval:      30 * time.Second,
		StaleAfter:    5 * time.Minute,
	}
}

// UniverseHealth 刷新健康状况
type UniverseHealth struct {
	Ready               bool    `json:"ready"`
	Degraded            bool    `json:"degraded"`
	AgeSeconds          float64 `json:"age_seconds"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastError           string  `json:"last_error,omitempty"`
	Count               int     `json:"count"`
}

// UniverseManager 周期性拉取合约目录，筛选并排名，发布不可变快照
type UniverseManager struct {
	cfg     UniverseConfig
	catalog port.ContractCatalog
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy

	snapshot atomic.Pointer[model.Universe]

	mu       sync.Mutex
	failures int
	lastErr  error
	subs     []chan *model.Universe

	now func() time.Time
}

// NewUniverseManager 创建品种管理器
func NewUniverseManager(
	cfg UniverseConfig,
	catalog port.ContractCatalog,
	limiter *resilience.RateLimiter,
	breaker *resilience.CircuitBreaker,
	retry resilience.RetryPolicy,
) *UniverseManager {
	def := DefaultUniverseConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if len(cfg.TierSizes) == 0 {
		cfg.TierSizes = def.TierSizes
	}
	if cfg.Weights == (UniverseWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.MaxSpreadBps <= 0 {
		cfg.MaxSpreadBps = def.MaxSpreadBps
	}
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen) && exchange.IsRetryable(err)
		}
	}
	return &UniverseManager{
		cfg:     cfg,
		catalog: catalog,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
		now:     time.Now,
	}
}

// Run 首次立即刷新，之后按 Interval 周期刷新，直到 ctx 结束
func (m *UniverseManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int("consecutive_failures", m.Health().ConsecutiveFailures).Msg("universe refresh failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh 拉取并重建快照
// 有旧快照时失败不返回错误，继续提供旧快照并标记降级
func (m *UniverseManager) Refresh(ctx context.Context) error {
	contracts, err := m.fetch(ctx)
	if err != nil {
		m.mu.Lock()
		m.failures++
		m.lastErr = err
		m.mu.Unlock()

		if m.snapshot.Load() != nil {
			log.Warn().Err(err).Msg("universe refresh failed, serving previous snapshot")
			return nil
		}
		return fmt.Errorf("refresh universe: %w", err)
	}

	u := model.NewUniverse(Rank(contracts, m.cfg), m.now())
	m.snapshot.Store(u)

	m.mu.Lock()
	m.failures = 0
	m.lastErr = nil
	subs := m.subs
	m.mu.Unlock()

	for _, ch := range subs {
		notifyLatest(ch, u)
	}

	log.Info().
		Int("contracts", len(contracts)).
		Int("instruments", u.Len()).
		Msg("universe refreshed")
	return nil
}

func (m *UniverseManager) fetch(ctx context.Context) ([]model.Contract, error) {
	var contracts []model.Contract
	err := resilience.Retry(ctx, m.retry, "fetch contracts", func(ctx context.Context) error {
		if err := m.limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		return m.breaker.Execute(ctx, func(ctx context.Context) error {
			cs, err := m.catalog.FetchContracts(ctx)
			if err != nil {
				return err
			}
			contracts = cs
			return nil
		})
	})
	return contracts, err
}

// Snapshot 当前快照，未加载时为 nil；返回值不会被修改
func (m *UniverseManager) Snapshot() *model.Universe {
	return m.snapshot.Load()
}

// Top 按排名取前 n 个且 tier <= maxTier 的品种
func (m *UniverseManager) Top(n, maxTier int) ([]model.Instrument, error) {
	u := m.snapshot.Load()
	if u == nil {
		return nil, ErrNoUniverse
	}
	out := make([]model.Instrument, 0, n)
	for _, in := range u.Instruments {
		if maxTier > 0 && in.Tier > maxTier {
			continue
		}
		out = append(out, in)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out, nil
}

// Health 健康状况
func (m *UniverseManager) Health() UniverseHealth {
	m.mu.Lock()
	failures, lastErr := m.failures, m.lastErr
	m.mu.Unlock()

	h := UniverseHealth{ConsecutiveFailures: failures}
	if lastErr != nil {
		h.LastError = lastErr.Error()
	}
	u := m.snapshot.Load()
	if u == nil {
		return h
	}
	h.Ready = true
	h.Count = u.Len()
	age := m.now().Sub(u.UpdatedAt)
	h.AgeSeconds = age.Seconds()
	h.Degraded = failures > 0 || (m.cfg.StaleAfter > 0 && age > m.cfg.StaleAfter)
	return h
}

// Subscribe 订阅新快照；通道只保留最新一份，慢消费者会跳过中间版本
func (m *UniverseManager) Subscribe() <-chan *model.Universe {
	ch := make(chan *model.Universe, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	if u := m.snapshot.Load(); u != nil {
		notifyLatest(ch, u)
	}
	return ch
}

func notifyLatest(ch chan *model.Universe, u *model.Universe) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Rank 过滤、评分、排序并分档，结果是全新的切片
func Rank(contracts []model.Contract, cfg UniverseConfig) []model.Instrument {
	blocked := make(map[string]bool, len(cfg.Blacklist))
	for _, s := range cfg.Blacklist {
		blocked[strings.ToUpper(s)] = true
	}

	out := make([]model.Instrument, 0, len(contracts))
	var maxTurnover, maxOI float64
	for _, c := range contracts {
		if !c.Tradable() || blocked[strings.ToUpper(c.Symbol)] {
			continue
		}
		if cfg.QuoteCurrency != "" && !strings.EqualFold(c.QuoteCurrency, cfg.QuoteCurrency) {
			continue
		}
		if c.Turnover24h < cfg.MinTurnover || c.Turnover24h <= 0 {
			continue
		}
		in := model.Instrument{Contract: c, SpreadBps: spreadBps(c)}
		maxTurnover = math.Max(maxTurnover, c.Turnover24h)
		maxOI = math.Max(maxOI, openInterestValue(c))
		out = append(out, in)
	}

	for i := range out {
		out[i].LiquidityScore = liquidityScore(out[i], maxTurnover, maxOI, cfg)
	}

	rankOrder(out, cfg.TieEpsilon)

	for i := range out {
		out[i].Rank = i + 1
		out[i].Tier = tierFor(i, cfg.TierSizes)
	}
	return out
}

// rankOrder 先按成交额精确降序排出全序，再把与组首成交额相差不超过 eps 的
// 连续品种归为一组，组内按流动性评分降序、symbol 升序
// 结果只取决于品种集合，与目录返回顺序无关
func rankOrder(out []model.Instrument, eps float64) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Turnover24h != out[j].Turnover24h {
			return out[i].Turnover24h > out[j].Turnover24h
		}
		return out[i].Symbol < out[j].Symbol
	})
	for start := 0; start < len(out); {
		end := start + 1
		for end < len(out) && nearTie(out[start].Turnover24h, out[end].Turnover24h, eps) {
			end++
		}
		group := out[start:end]
		sort.Slice(group, func(i, j int) bool {
			if group[i].LiquidityScore != group[j].LiquidityScore {
				return group[i].LiquidityScore > group[j].LiquidityScore
			}
			return group[i].Symbol < group[j].Symbol
		})
		start = end
	}
}

// spreadBps 有盘口时用买卖价差，否则用标记价与最新价偏离近似
func spreadBps(c model.Contract) float64 {
	if c.BestBidPrice > 0 && c.BestAskPrice > c.BestBidPrice {
		mid := (c.BestBidPrice + c.BestAskPrice) / 2
		return (c.BestAskPrice - c.BestBidPrice) / mid * 10000
	}
	if c.MarkPrice > 0 && c.LastPrice > 0 {
		return math.Abs(c.MarkPrice-c.LastPrice) / c.MarkPrice * 10000
	}
	return 0
}

func openInterestValue(c model.Contract) float64 {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 1
	}
	price := c.MarkPrice
	if price <= 0 {
		price = c.LastPrice
	}
	return c.OpenInterest * mult * price
}

// liquidityScore 0-100，成交额和持仓价值按对数归一
func liquidityScore(in model.Instrument, maxTurnover, maxOI float64, cfg UniverseConfig) float64 {
	w := cfg.Weights
	total := w.Turnover + w.OpenInterest + w.Spread
	if total <= 0 {
		return 0
	}
	score := w.Turnover*logNorm(in.Turnover24h, maxTurnover) +
		w.OpenInterest*logNorm(openInterestValue(in.Contract), maxOI) +
		w.Spread*math.Max(0, 1-in.SpreadBps/cfg.MaxSpreadBps)
	return math.Min(100, math.Max(0, 100*score/total))
}

func logNorm(v, max float64) float64 {
	if v <= 0 || max <= 0 {
		return 0
	}
	return math.Log1p(v) / math.Log1p(max)
}

func nearTie(a, b, eps float64) bool {
	if a == b {
		return true
	}
	if eps <= 0 {
		return false
	}
	return math.Abs(a-b)/math.Max(a, b) <= eps
}

func tierFor(idx int, sizes []int) int {
	bound := 0
	for i, n := range sizes {
		bound += n
		if idx < bound {
			return i + 1
		}
	}
	return len(sizes) + 1
}
