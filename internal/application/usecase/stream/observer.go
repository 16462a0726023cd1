package stream

import "xsig/internal/domain/model"

// Observer 会话运行指标
type Observer interface {
	SessionState(s State)
	Reconnect(reason string)
	BarProcessed(key model.BarKey)
	BarDiscarded(key model.BarKey, reason string)
	SignalPublished(symbol string, dir model.Direction)
	SignalSuppressed(symbol string, reason string)
	TradeClosed(trade model.Trade)
	OpenPositions(n int)
}

type noopObserver struct{}

func (noopObserver) SessionState(State)                      {}
func (noopObserver) Reconnect(string)                        {}
func (noopObserver) BarProcessed(model.BarKey)               {}
func (noopObserver) BarDiscarded(model.BarKey, string)       {}
func (noopObserver) SignalPublished(string, model.Direction) {}
func (noopObserver) SignalSuppressed(string, string)         {}
func (noopObserver) TradeClosed(model.Trade)                 {}
func (noopObserver) OpenPositions(int)                       {}
