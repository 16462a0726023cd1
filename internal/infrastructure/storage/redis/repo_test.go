package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
)

func TestNewDefaultsKeys(t *testing.T) {
	r := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", 0, "", "")
	defer r.Close()

	assert.Equal(t, "xsig:latest", r.keyLatest)
	assert.Equal(t, "xsig:signals", r.signalStream)
	assert.Equal(t, "xsig:signals:pub", r.signalChan)
	assert.Equal(t, "xsig:trades", r.tradeStream)
}

// 需要本地 redis：XSIG_TEST_REDIS_ADDR=127.0.0.1:6379
func TestRepoAgainstRedis(t *testing.T) {
	addr := os.Getenv("XSIG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("XSIG_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	prefix := "xsig-test-" + time.Now().Format("150405.000")
	r := New(rdb, prefix, time.Minute, "", "")
	defer func() {
		rdb.Del(ctx, prefix+":latest", prefix+":signals", prefix+":trades", prefix+":universe")
		_ = r.Close()
	}()

	sub := rdb.Subscribe(ctx, prefix+":signals:pub")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ev := model.SignalEvent{Symbol: "XBTUSDTM", Timestamp: 1000, Signal: model.AlignedSignal{Direction: model.Bullish}}
	require.NoError(t, r.SaveSignal(ctx, ev))
	require.NoError(t, r.SaveTrade(ctx, model.Trade{ID: "t1", Symbol: "XBTUSDTM"}))

	got, err := r.LatestSignal(ctx, "XBTUSDTM")
	require.NoError(t, err)
	assert.Equal(t, model.Bullish, got.Signal.Direction)

	n, err := rdb.XLen(ctx, prefix+":trades").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"symbol":"XBTUSDTM"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no pubsub message")
	}
}
