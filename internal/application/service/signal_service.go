package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"xsig/internal/application/port"
)

// SignalService 消费已发布的事件并写入存储
// 存储失败只记录日志，不阻塞信号管线
type SignalService struct {
	repo port.SignalRepository
}

func NewSignalService(repo port.SignalRepository) *SignalService {
	return &SignalService{repo: repo}
}

// Run 直到 events 关闭或 ctx 结束
func (s *SignalService) Run(ctx context.Context, events <-chan port.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ctx, ev)
		}
	}
}

// Handle 写入单个事件
func (s *SignalService) Handle(ctx context.Context, ev port.Event) {
	var err error
	switch {
	case ev.Kind == port.EventSignal && ev.Signal != nil:
		err = s.repo.SaveSignal(ctx, *ev.Signal)
	case ev.Kind == port.EventTrade && ev.Trade != nil:
		err = s.repo.SaveTrade(ctx, *ev.Trade)
	default:
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("persist event failed")
	}
}
