package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

func TestBrokerFanOutInOrder(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("a", 4)
	c := b.Subscribe("c", 4)
	assert.Equal(t, a, b.Subscribe("a", 1))

	for i := 0; i < 3; i++ {
		ev := port.Event{Kind: port.EventSignal, Signal: &model.SignalEvent{Timestamp: int64(i)}}
		require.NoError(t, b.Publish(context.Background(), ev))
	}
	for _, ch := range []<-chan port.Event{a, c} {
		for i := 0; i < 3; i++ {
			assert.Equal(t, int64(i), (<-ch).Signal.Timestamp)
		}
	}
}

func TestBrokerBackpressure(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("slow", 0)

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(context.Background(), port.Event{Kind: port.EventTrade, Trade: &model.Trade{Symbol: "X"}})
	}()

	select {
	case <-published:
		t.Fatal("publish returned before the subscriber received")
	case <-time.After(20 * time.Millisecond):
	}
	ev := <-ch
	assert.Equal(t, "X", ev.Trade.Symbol)
	require.NoError(t, <-published)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Publish(ctx, port.Event{Kind: port.EventTrade}), context.DeadlineExceeded)
}

func TestBrokerUnsubscribeAndClose(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("a", 1)
	c := b.Subscribe("c", 1)

	b.Unsubscribe("a")
	_, ok := <-a
	assert.False(t, ok)

	b.Close()
	_, ok = <-c
	assert.False(t, ok)
	assert.ErrorIs(t, b.Publish(context.Background(), port.Event{}), ErrBrokerClosed)

	late := b.Subscribe("late", 1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestBarBuffer(t *testing.T) {
	buf := NewBarBuffer(3)
	_, ok := buf.Last()
	assert.False(t, ok)

	for i := int64(1); i <= 5; i++ {
		buf.Push(model.Bar{Start: i})
	}
	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, 3, buf.Cap())

	last, ok := buf.Last()
	require.True(t, ok)
	assert.Equal(t, int64(5), last.Start)

	tail := buf.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Start)
	assert.Equal(t, int64(5), tail[1].Start)
	assert.Len(t, buf.Tail(10), 3)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
}
