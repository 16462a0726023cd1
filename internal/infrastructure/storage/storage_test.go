package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
)

func TestMemoryKeepsMostRecent(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, m.SaveSignal(ctx, model.SignalEvent{Symbol: "XBTUSDTM", Timestamp: i}))
	}
	got := m.Signals()
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Timestamp)
	assert.Equal(t, int64(3), got[1].Timestamp)

	require.NoError(t, m.SaveTrade(ctx, model.Trade{ID: "t1"}))
	assert.Len(t, m.Trades(), 1)

	require.NoError(t, m.SaveUniverse(ctx, nil))
	assert.Nil(t, m.Universe())
	u := model.NewUniverse(nil, time.Now())
	require.NoError(t, m.SaveUniverse(ctx, u))
	assert.Same(t, u, m.Universe())
}
