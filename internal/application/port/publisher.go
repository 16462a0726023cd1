package port

import (
	"context"

	"xsig/internal/domain/model"
)

// EventKind 事件类型
type EventKind string

const (
	EventSignal EventKind = "signal"
	EventTrade  EventKind = "trade"
)

// Event 发布给订阅者的事件
type Event struct {
	Kind   EventKind
	Signal *model.SignalEvent
	Trade  *model.Trade
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
