package port

import (
	"context"

	"xsig/internal/domain/model"
)

// SignalRepository 已发布信号 / 已平仓交易 / 品种快照的存储
type SignalRepository interface {
	SaveSignal(ctx context.Context, ev model.SignalEvent) error
	SaveTrade(ctx context.Context, trade model.Trade) error
	SaveUniverse(ctx context.Context, u *model.Universe) error

	Close() error
}
