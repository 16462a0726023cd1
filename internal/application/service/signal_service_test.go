package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

type mockRepository struct {
	mu        sync.Mutex
	signals   []model.SignalEvent
	trades    []model.Trade
	universes []*model.Universe
	err       error
}

func (m *mockRepository) SaveSignal(ctx context.Context, ev model.SignalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.signals = append(m.signals, ev)
	return nil
}

func (m *mockRepository) SaveTrade(ctx context.Context, tr model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, tr)
	return nil
}

func (m *mockRepository) SaveUniverse(ctx context.Context, u *model.Universe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.universes = append(m.universes, u)
	return nil
}

func (m *mockRepository) Close() error { return nil }

func TestSignalServicePersistsEvents(t *testing.T) {
	repo := &mockRepository{}
	svc := NewSignalService(repo)

	events := make(chan port.Event, 3)
	events <- port.Event{Kind: port.EventSignal, Signal: &model.SignalEvent{Symbol: "XBTUSDTM"}}
	events <- port.Event{Kind: port.EventTrade, Trade: &model.Trade{ID: "t1"}}
	events <- port.Event{Kind: port.EventTrade}
	close(events)

	require.NoError(t, svc.Run(context.Background(), events))
	require.Len(t, repo.signals, 1)
	assert.Equal(t, "XBTUSDTM", repo.signals[0].Symbol)
	require.Len(t, repo.trades, 1)
}

func TestSignalServiceIgnoresStoreErrors(t *testing.T) {
	repo := &mockRepository{err: errors.New("disk full")}
	svc := NewSignalService(repo)

	svc.Handle(context.Background(), port.Event{Kind: port.EventSignal, Signal: &model.SignalEvent{Symbol: "A"}})
	svc.Handle(context.Background(), port.Event{Kind: port.EventTrade, Trade: &model.Trade{ID: "t"}})
	assert.Len(t, repo.trades, 1)
}

func TestSnapshotServicePersistsUniverse(t *testing.T) {
	repo := &mockRepository{}
	svc := NewSnapshotService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *model.Universe, 1)
	ch <- model.NewUniverse(nil, time.Now())

	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx, ch)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.universes) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
