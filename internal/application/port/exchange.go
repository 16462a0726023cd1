package port

import (
	"context"
	"time"

	"xsig/internal/domain/model"
)

// ContractCatalog 合约目录（REST）
type ContractCatalog interface {
	FetchContracts(ctx context.Context) ([]model.Contract, error)
}

// CandleSource 历史 K 线（REST），按时间升序返回
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, res model.Resolution, from, to time.Time) ([]model.Bar, error)
}

// SessionToken 公共推送会话令牌
type SessionToken struct {
	Token             string
	Endpoints         []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// TokenSource 获取推送会话令牌，每次连接都必须重新获取，不可缓存
type TokenSource interface {
	PublicToken(ctx context.Context) (*SessionToken, error)
}
