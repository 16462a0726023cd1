package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
	"xsig/internal/domain/service"
	"xsig/internal/infrastructure/resilience"
)

// compositeSlot 同一品种的趋势周期最新综合信号，由 secondary worker 写、primary worker 读
type compositeSlot struct {
	secondary atomic.Pointer[model.CompositeSignal]
}

// 丢弃原因
const (
	discardStale     = "stale"
	discardDuplicate = "duplicate"
	discardInvalid   = "invalid"
)

// worker 一个 (symbol, resolution) 的串行处理协程
// 指标状态、K 线缓冲、未收盘 K 线只在此协程内访问；primary worker 另外独占该品种的持仓和订单流状态
type worker struct {
	s       *Session
	key     model.BarKey
	primary bool
	slot    *compositeSlot

	in     chan port.StreamUpdate
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// started 由 Session.mu 保护
	started bool

	set        port.IndicatorSet
	buf        *BarBuffer
	pending    *model.Bar
	lastClosed int64
	micro      *service.MicrostructureTracker
}

func newWorker(s *Session, key model.BarKey, primary bool, slot *compositeSlot, set port.IndicatorSet) *worker {
	ctx, cancel := context.WithCancel(s.runCtx)
	w := &worker{
		s:       s,
		key:     key,
		primary: primary,
		slot:    slot,
		in:      make(chan port.StreamUpdate, s.cfg.WorkerBuffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		set:     set,
		buf:     NewBarBuffer(s.cfg.BarBufferSize),
	}
	if primary && s.cfg.Live {
		w.micro = service.NewMicrostructureTracker(s.deps.Micro)
	}
	return w
}

// send 投递一条更新；worker 已停止时丢弃
func (w *worker) send(ctx context.Context, up port.StreamUpdate) {
	select {
	case w.in <- up:
	case <-w.ctx.Done():
	case <-ctx.Done():
	}
}

func (w *worker) run() {
	defer close(w.done)
	defer w.shutdown()

	w.warmup()

	for {
		select {
		case <-w.ctx.Done():
			return
		case up := <-w.in:
			switch up.Kind {
			case port.UpdateCandle:
				w.onCandle(up.Bar)
			case port.UpdateExecution:
				if w.micro != nil {
					w.micro.OnExecution(up.Execution, w.s.now())
				}
			case port.UpdateQuote:
				if w.micro != nil {
					w.micro.OnQuote(up.Quote, w.s.now())
				}
			}
		}
	}
}

// warmup 用 REST 历史 K 线建立指标状态，失败时冷启动
func (w *worker) warmup() {
	d := w.s.deps
	if d.Candles == nil || w.s.cfg.WarmupBars <= 0 {
		return
	}
	now := w.s.now()
	from := now.Add(-time.Duration(w.s.cfg.WarmupBars) * w.key.Resolution.Duration())

	var bars []model.Bar
	err := resilience.Retry(w.ctx, d.Retry, "fetch candles", func(ctx context.Context) error {
		if err := d.Limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		return d.Breaker.Execute(ctx, func(ctx context.Context) error {
			bs, err := d.Candles.FetchCandles(ctx, w.key.Symbol, w.key.Resolution, from, now)
			if err != nil {
				return err
			}
			bars = bs
			return nil
		})
	})
	if err != nil {
		if w.ctx.Err() == nil {
			log.Warn().Err(err).Str("key", w.key.String()).Msg("warmup failed, starting cold")
		}
		return
	}

	applied := 0
	for _, bar := range bars {
		if !bar.Valid() || bar.Start <= w.lastClosed {
			continue
		}
		// 最后一根可能尚未收盘，交给实时推送覆盖
		if time.UnixMilli(bar.Start).Add(w.key.Resolution.Duration()).After(now) {
			b := bar
			w.pending = &b
			continue
		}
		w.apply(bar, true)
		applied++
	}
	log.Info().
		Str("key", w.key.String()).
		Int("bars", applied).
		Bool("ready", w.set.Ready()).
		Msg("warmup done")
}

// onCandle 未收盘 K 线被覆盖，直到出现更晚的开始时间，前一根才算收盘
func (w *worker) onCandle(bar model.Bar) {
	obs := w.s.obs
	if !bar.Valid() {
		obs.BarDiscarded(w.key, discardInvalid)
		return
	}
	if bar.Start <= w.lastClosed {
		reason := discardStale
		if bar.Start == w.lastClosed {
			reason = discardDuplicate
		}
		obs.BarDiscarded(w.key, reason)
		log.Debug().Str("key", w.key.String()).Int64("start", bar.Start).Str("reason", reason).Msg("bar discarded")
		return
	}
	switch {
	case w.pending == nil:
		w.pending = &bar
	case bar.Start == w.pending.Start:
		*w.pending = bar
	case bar.Start < w.pending.Start:
		obs.BarDiscarded(w.key, discardStale)
	default:
		closed := *w.pending
		w.pending = &bar
		w.apply(closed, false)
	}
}

// apply 处理一根已收盘 K 线
func (w *worker) apply(bar model.Bar, warm bool) {
	d := w.s.deps
	w.buf.Push(bar)
	w.lastClosed = bar.Start

	results := w.set.Update(bar)
	composite := d.Aggregator.Aggregate(results, nil)
	if !warm {
		w.s.obs.BarProcessed(w.key)
	}

	if !w.primary {
		// 指标未填满时的综合信号不完整，不能参与对齐
		if w.set.Ready() {
			w.slot.secondary.Store(&composite)
		}
		return
	}
	if warm {
		return
	}

	sym := w.key.Symbol
	spec := w.s.marketSpec(sym)
	if trade := d.Risk.OnBar(sym, bar, spec); trade != nil {
		w.onTrade(trade)
	}

	if !w.set.Ready() {
		log.Debug().Str("key", w.key.String()).Int("bars", w.buf.Len()).Msg("indicators warming up")
		return
	}

	if w.micro != nil {
		now := w.s.now()
		if at, ok := w.s.nextFunding(sym); ok {
			w.micro.SetNextFunding(at)
		}
		// 先求候选方向，再按方向评估订单流
		micro := w.micro.Evaluate(composite.Type.Direction(), now)
		composite = d.Aggregator.Aggregate(results, micro)
	}

	secondary := w.slot.secondary.Load()
	if secondary == nil {
		log.Debug().Str("symbol", sym).Msg("secondary resolution not ready")
		return
	}

	aligned, reason := d.Reconciler.Reconcile(composite, *secondary)
	if aligned == nil {
		log.Debug().
			Str("symbol", sym).
			Float64("primary", composite.Score).
			Float64("secondary", secondary.Score).
			Str("reason", string(reason)).
			Msg("signal rejected")
		return
	}

	if trade := d.Risk.OnSignal(sym, *aligned, bar.Close, bar.Start); trade != nil {
		w.onTrade(trade)
	}

	if w.s.cfg.RequireEntryGate && !composite.EntryReady {
		w.s.obs.SignalSuppressed(sym, "entry_gate")
		return
	}
	if !d.Cooldown.TryAcquire(sym, aligned.Direction) {
		w.s.obs.SignalSuppressed(sym, "cooldown")
		return
	}

	ev := model.SignalEvent{
		Symbol:    sym,
		Primary:   w.s.cfg.Primary,
		Secondary: w.s.cfg.Secondary,
		Price:     bar.Close,
		Timestamp: bar.Start + w.key.Resolution.Duration().Milliseconds(),
		Signal:    *aligned,
	}
	if err := d.Publisher.Publish(w.ctx, port.Event{Kind: port.EventSignal, Signal: &ev}); err != nil {
		log.Warn().Err(err).Str("symbol", sym).Msg("publish signal failed")
		return
	}
	w.s.obs.SignalPublished(sym, aligned.Direction)
	log.Info().
		Str("symbol", sym).
		Str("direction", string(aligned.Direction)).
		Float64("score", aligned.CombinedScore).
		Float64("confidence", aligned.Confidence).
		Str("alignment", string(aligned.Alignment)).
		Msg("signal published")

	w.open(ev, spec)
}

func (w *worker) open(ev model.SignalEvent, spec service.MarketSpec) {
	d := w.s.deps
	vol := service.Volatility(w.buf.Tail(w.s.cfg.VolatilityBars))
	pos, err := d.Risk.Open(ev.Symbol, ev.Signal, ev.Price, spec, vol, ev.Timestamp)
	switch {
	case errors.Is(err, service.ErrPositionExists):
		return
	case errors.Is(err, service.ErrMaxPositions):
		log.Info().Str("symbol", ev.Symbol).Msg("position not opened: max open positions")
		return
	case err != nil:
		log.Error().Err(err).Str("symbol", ev.Symbol).Msg("open position failed")
		return
	}
	w.s.obs.OpenPositions(d.Risk.Count())
	log.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("size", pos.Size).
		Float64("leverage", pos.Leverage).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Msg("position opened")
}

func (w *worker) onTrade(trade *model.Trade) {
	w.publishTrade(w.ctx, trade)
	w.s.positionClosed(trade.Symbol)
}

func (w *worker) publishTrade(ctx context.Context, trade *model.Trade) {
	w.s.obs.TradeClosed(*trade)
	w.s.obs.OpenPositions(w.s.deps.Risk.Count())
	log.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Str("reason", string(trade.Reason)).
		Float64("exit", trade.ExitPrice).
		Float64("pnl", trade.RealizedPnL).
		Float64("roi", trade.RealizedROI).
		Msg("position closed")
	if err := w.s.deps.Publisher.Publish(ctx, port.Event{Kind: port.EventTrade, Trade: trade}); err != nil {
		log.Warn().Err(err).Str("symbol", trade.Symbol).Msg("publish trade failed")
	}
}

// shutdown 停止时按配置强平该品种持仓
func (w *worker) shutdown() {
	if !w.primary || !w.s.cfg.CloseOnStop {
		return
	}
	last, ok := w.buf.Last()
	if !ok || !w.s.deps.Risk.HasPosition(w.key.Symbol) {
		return
	}
	trade, err := w.s.deps.Risk.ForceClose(w.key.Symbol, last.Close, w.s.now().UnixMilli())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.publishTrade(ctx, trade)
}
