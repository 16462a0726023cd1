package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

type Repo struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	keyLatest    string // prefix + ":latest"
	keyUniverse  string // prefix + ":universe"
	signalStream string
	tradeStream  string
	signalChan   string
	maxLen       int64
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, signalStream, signalChan string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "xsig"
	}
	if strings.TrimSpace(signalStream) == "" {
		signalStream = prefix + ":signals"
	}
	if strings.TrimSpace(signalChan) == "" {
		signalChan = prefix + ":signals:pub"
	}
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		keyLatest:    prefix + ":latest",
		keyUniverse:  prefix + ":universe",
		signalStream: signalStream,
		tradeStream:  prefix + ":trades",
		signalChan:   signalChan,
		maxLen:       10000,
	}
}

func (r *Repo) Close() error { return r.rdb.Close() }

// SaveSignal 三处写入：最新信号 hash、信号 stream、pubsub 频道
func (r *Repo) SaveSignal(ctx context.Context, ev model.SignalEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// Hash: field = symbol -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, ev.Symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.signalStream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"ts_ms":     ev.Timestamp,
			"symbol":    ev.Symbol,
			"direction": string(ev.Signal.Direction),
			"score":     ev.Signal.CombinedScore,
			"payload":   string(b),
		},
	})
	pipe.Publish(ctx, r.signalChan, string(b))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) SaveTrade(ctx context.Context, t model.Trade) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.tradeStream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"closed_at": t.ClosedAt,
			"symbol":    t.Symbol,
			"reason":    string(t.Reason),
			"pnl":       t.RealizedPnL,
			"payload":   string(b),
		},
	}).Err()
}

// SaveUniverse 只保留最新一份快照
func (r *Repo) SaveUniverse(ctx context.Context, u *model.Universe) error {
	if u == nil {
		return nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.keyUniverse, string(b), r.ttl).Err()
}

// LatestSignal 读取某品种最新信号
func (r *Repo) LatestSignal(ctx context.Context, symbol string) (*model.SignalEvent, error) {
	s, err := r.rdb.HGet(ctx, r.keyLatest, symbol).Result()
	if err != nil {
		return nil, err
	}
	var ev model.SignalEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

var _ port.SignalRepository = (*Repo)(nil)
