package stream

import (
	"context"
	"errors"
	"sync"

	"xsig/internal/application/port"
)

// ErrBrokerClosed broker 已关闭
var ErrBrokerClosed = errors.New("broker closed")

// Broker 事件扇出
// 每个订阅者一个有界通道；订阅者处理慢时 Publish 阻塞（反压），不丢事件
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]chan port.Event
	order  []string
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]chan port.Event)}
}

// Subscribe 注册订阅者，同名重复订阅返回同一个通道
func (b *Broker) Subscribe(name string, buffer int) <-chan port.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		return ch
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan port.Event, buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[name] = ch
	b.order = append(b.order, name)
	return ch
}

// Unsubscribe 移除订阅者并关闭其通道
func (b *Broker) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	close(ch)
}

// Publish 按订阅顺序逐个投递，ctx 结束时返回
func (b *Broker) Publish(ctx context.Context, ev port.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for _, name := range b.order {
		select {
		case b.subs[name] <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close 关闭所有订阅通道
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, name := range b.order {
		close(b.subs[name])
	}
	b.subs = map[string]chan port.Event{}
	b.order = nil
}

var _ port.Publisher = (*Broker)(nil)
