package storage

import (
	"context"
	"sync"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// Memory 内存实现，未配置任何持久化存储时使用，保留最近的记录
type Memory struct {
	mu       sync.RWMutex
	limit    int
	signals  []model.SignalEvent
	trades   []model.Trade
	universe *model.Universe
}

// NewMemory limit <= 0 表示不限
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) SaveSignal(_ context.Context, ev model.SignalEvent) error {
	m.mu.Lock()
	m.signals = trim(append(m.signals, ev), m.limit)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveTrade(_ context.Context, t model.Trade) error {
	m.mu.Lock()
	m.trades = trim(append(m.trades, t), m.limit)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveUniverse(_ context.Context, u *model.Universe) error {
	if u == nil {
		return nil
	}
	m.mu.Lock()
	m.universe = u
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Signals 副本，按写入顺序
func (m *Memory) Signals() []model.SignalEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.SignalEvent(nil), m.signals...)
}

func (m *Memory) Trades() []model.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Trade(nil), m.trades...)
}

func (m *Memory) Universe() *model.Universe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.universe
}

func trim[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}

var _ port.SignalRepository = (*Memory)(nil)
