package indicator

import (
	"fmt"
	"sort"
	"sync"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// Spec 一个指标实例的配置
type Spec struct {
	Name   string             `toml:"name"` // 结果中的键，默认同 Kind
	Kind   string             `toml:"kind"` // rsi / ema_cross / bollinger / volume_spike
	Weight float64            `toml:"weight"`
	Params map[string]float64 `toml:"params"`
}

// Key 结果键
func (s Spec) Key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind
}

// Constructor 按参数创建指标
type Constructor func(name string, params map[string]float64) (port.Indicator, error)

// DefaultSpecs 内置参考指标
func DefaultSpecs() []Spec {
	return []Spec{
		{Kind: KindRSI},
		{Kind: KindEMACross},
		{Kind: KindBollinger},
		{Kind: KindVolumeSpike},
	}
}

// Registry kind -> 构造函数，并按配置为每个 (symbol, resolution) 创建全新的指标集合
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	specs []Spec
}

// NewRegistry 创建注册表并注册内置指标；specs 为空时使用 DefaultSpecs
func NewRegistry(specs []Spec) *Registry {
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}
	r := &Registry{
		ctors: make(map[string]Constructor),
		specs: specs,
	}
	r.Register(KindRSI, NewRSI)
	r.Register(KindEMACross, NewEMACross)
	r.Register(KindBollinger, NewBollinger)
	r.Register(KindVolumeSpike, NewVolumeSpike)
	return r
}

// Register 注册或覆盖一种指标
func (r *Registry) Register(kind string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = c
}

// Kinds 已注册的指标类型
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Weights 配置中显式给出的指标权重
func (r *Registry) Weights() map[string]float64 {
	out := make(map[string]float64)
	for _, s := range r.specs {
		if s.Weight > 0 {
			out[s.Key()] = s.Weight
		}
	}
	return out
}

// Validate 检查配置能否构建
func (r *Registry) Validate() error {
	_, err := r.NewSet()
	return err
}

// NewSet 实现 port.IndicatorFactory
func (r *Registry) NewSet() (port.IndicatorSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := &Set{}
	seen := make(map[string]bool, len(r.specs))
	for _, s := range r.specs {
		key := s.Key()
		if seen[key] {
			return nil, fmt.Errorf("duplicate indicator name %q", key)
		}
		seen[key] = true

		ctor, ok := r.ctors[s.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown indicator kind %q", s.Kind)
		}
		ind, err := ctor(key, s.Params)
		if err != nil {
			return nil, fmt.Errorf("build indicator %s: %w", key, err)
		}
		set.indicators = append(set.indicators, ind)
	}
	return set, nil
}

var _ port.IndicatorFactory = (*Registry)(nil)

// Set 一个 (symbol, resolution) 的指标集合，只由对应 worker 使用
type Set struct {
	indicators []port.Indicator
}

// Update 推进所有指标；窗口未满的指标不出现在结果中
func (s *Set) Update(bar model.Bar) map[string]model.IndicatorResult {
	out := make(map[string]model.IndicatorResult, len(s.indicators))
	for _, ind := range s.indicators {
		res := ind.Update(bar)
		if ind.Ready() {
			out[ind.Name()] = res
		}
	}
	return out
}

// Ready 全部指标窗口已满
func (s *Set) Ready() bool {
	for _, ind := range s.indicators {
		if !ind.Ready() {
			return false
		}
	}
	return true
}

// Names 指标名
func (s *Set) Names() []string {
	out := make([]string, len(s.indicators))
	for i, ind := range s.indicators {
		out[i] = ind.Name()
	}
	return out
}

var _ port.IndicatorSet = (*Set)(nil)

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func period(p map[string]float64, key string, def int) (int, error) {
	n := int(param(p, key, float64(def)))
	if n < 2 {
		return 0, fmt.Errorf("%s must be >= 2, got %d", key, n)
	}
	return n, nil
}
