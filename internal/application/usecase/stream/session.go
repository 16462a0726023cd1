package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
	"xsig/internal/domain/service"
	"xsig/internal/infrastructure/resilience"
)

var (
	// ErrTokenRefresh 令牌定时刷新，触发完整重连
	ErrTokenRefresh = errors.New("session token refresh")
	// ErrNoWelcome 握手后没有收到 welcome
	ErrNoWelcome = errors.New("no welcome message")
	// ErrNoEndpoint 令牌响应中没有可用的推送地址
	ErrNoEndpoint = errors.New("no stream endpoint")
	// ErrAlreadyRunning Run 被重复调用
	ErrAlreadyRunning = errors.New("session already running")
)

// Config 会话配置
type Config struct {
	Primary   model.Resolution // 入场周期，在其收盘时做双周期对齐
	Secondary model.Resolution // 趋势确认周期
	Live      bool             // 同时订阅成交和最优报价

	ReconnectDelay time.Duration
	TokenRefresh   time.Duration // 必须短于令牌有效期
	WelcomeTimeout time.Duration

	WorkerBuffer     int
	BarBufferSize    int
	WarmupBars       int
	VolatilityBars   int
	RequireEntryGate bool
	CloseOnStop      bool

	// WatchUniverse 跟随的品种范围
	MaxSymbols int
	MaxTier    int
}

// DefaultConfig 默认会话配置
func DefaultConfig() Config {
	return Config{
		Primary:          15,
		Secondary:        60,
		ReconnectDelay:   5 * time.Second,
		TokenRefresh:     23 * time.Hour,
		WelcomeTimeout:   10 * time.Second,
		WorkerBuffer:     256,
		BarBufferSize:    500,
		WarmupBars:       200,
		VolatilityBars:   14,
		RequireEntryGate: true,
		MaxSymbols:       30,
		MaxTier:          3,
	}
}

// Deps 会话依赖
type Deps struct {
	Tokens   port.TokenSource
	Dialer   port.StreamDialer
	Protocol port.StreamProtocol
	Candles  port.CandleSource // nil 表示不做历史预热

	Limiter *resilience.RateLimiter
	Breaker *resilience.CircuitBreaker
	Retry   resilience.RetryPolicy

	Indicators port.IndicatorFactory
	Aggregator *service.SignalAggregator
	Reconciler *service.TimeframeReconciler
	Cooldown   *service.SignalCooldown
	Risk       *service.RiskManager
	Micro      service.MicrostructureConfig

	Publisher port.Publisher
	Observer  Observer
}

// Session 单条推送连接的生命周期管理
// DISCONNECTED -> CONNECTING -> CONNECTED -> RECONNECTING -> CONNECTING ...
type Session struct {
	cfg  Config
	deps Deps
	obs  Observer

	state    atomic.Int32
	universe atomic.Pointer[model.Universe]

	mu       sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
	conn     port.StreamConn
	symbols  map[string]bool
	removing map[string]bool // 有持仓，等平仓后再移除
	workers  map[model.BarKey]*worker
	slots    map[string]*compositeSlot

	now func() time.Time
}

// NewSession 创建会话
func NewSession(cfg Config, deps Deps) *Session {
	def := DefaultConfig()
	if cfg.Primary <= 0 {
		cfg.Primary = def.Primary
	}
	if cfg.Secondary <= 0 {
		cfg.Secondary = def.Secondary
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.TokenRefresh <= 0 {
		cfg.TokenRefresh = def.TokenRefresh
	}
	if cfg.WelcomeTimeout <= 0 {
		cfg.WelcomeTimeout = def.WelcomeTimeout
	}
	if cfg.WorkerBuffer <= 0 {
		cfg.WorkerBuffer = def.WorkerBuffer
	}
	if cfg.BarBufferSize <= 0 {
		cfg.BarBufferSize = def.BarBufferSize
	}
	if cfg.VolatilityBars <= 0 {
		cfg.VolatilityBars = def.VolatilityBars
	}
	obs := deps.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		obs:      obs,
		runCtx:   context.Background(),
		symbols:  make(map[string]bool),
		removing: make(map[string]bool),
		workers:  make(map[model.BarKey]*worker),
		slots:    make(map[string]*compositeSlot),
		now:      time.Now,
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.obs.SessionState(st)
	log.Info().Str("state", st.String()).Msg("stream session state")
}

// Symbols 当前订阅的品种（含等待移除的）
func (s *Session) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SetUniverse 更新品种快照，用于下单精度和资金费时间
func (s *Session) SetUniverse(u *model.Universe) {
	if u != nil {
		s.universe.Store(u)
	}
}

func (s *Session) marketSpec(symbol string) service.MarketSpec {
	if in, ok := s.universe.Load().Get(symbol); ok {
		return service.SpecFor(in)
	}
	return service.MarketSpec{}
}

func (s *Session) nextFunding(symbol string) (time.Time, bool) {
	u := s.universe.Load()
	in, ok := u.Get(symbol)
	if !ok || in.NextFundingMs <= 0 {
		return time.Time{}, false
	}
	return u.UpdatedAt.Add(time.Duration(in.NextFundingMs) * time.Millisecond), true
}

// Run 运行会话直到 ctx 结束或 Stop；断线后等待 ReconnectDelay 重新获取令牌并重订阅
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx, s.cancel = runCtx, cancel
	s.stopped = make(chan struct{})
	// Run 之前加入的品种在此启动 worker
	for _, w := range s.workers {
		s.startWorkerLocked(w)
	}
	s.mu.Unlock()

	defer func() {
		s.stopWorkers()
		s.setState(StateDisconnected)
		close(s.stopped)
	}()

	attempt := 0
	for {
		s.setState(StateConnecting)
		err := s.connect(runCtx, attempt)
		if runCtx.Err() != nil {
			return nil
		}
		attempt++

		s.setState(StateReconnecting)
		reason := "transport"
		if errors.Is(err, ErrTokenRefresh) {
			reason = "token_refresh"
		}
		s.obs.Reconnect(reason)
		log.Warn().Err(err).Str("reason", reason).Dur("delay", s.cfg.ReconnectDelay).Msg("stream session reconnecting")

		if errors.Is(err, ErrTokenRefresh) {
			continue
		}
		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop 停止会话并等待 Run 返回
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// connect 一次完整的连接周期，返回导致断开的原因
func (s *Session) connect(ctx context.Context, attempt int) error {
	token, err := s.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	if len(token.Endpoints) == 0 {
		return ErrNoEndpoint
	}
	endpoint := token.Endpoints[attempt%len(token.Endpoints)]
	url, err := s.deps.Protocol.ConnectURL(endpoint, token.Token)
	if err != nil {
		return err
	}

	conn, err := s.deps.Dialer.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	msgs := make(chan []byte, 256)
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go readLoop(conn, msgs, readErr, readDone)

	heartbeat := token.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 18 * time.Second
	}
	pingTicker := time.NewTicker(heartbeat)
	refresh := time.NewTimer(s.cfg.TokenRefresh)

	// 先停计时器，再关闭连接
	defer func() {
		pingTicker.Stop()
		refresh.Stop()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
		close(readDone)
	}()

	if err := s.awaitWelcome(ctx, msgs, readErr); err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	topics := s.topicsFor(s.sortedSymbolsLocked())
	s.mu.Unlock()

	for _, topic := range topics {
		if err := conn.WriteJSON(s.deps.Protocol.SubscribeRequest(topic, true)); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	s.setState(StateConnected)
	log.Info().Str("endpoint", endpoint).Int("topics", len(topics)).Msg("stream connected & subscribed")

	awaitingPong := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("transport closed: %w", err)
		case <-refresh.C:
			return ErrTokenRefresh
		case <-pingTicker.C:
			if awaitingPong {
				log.Warn().Msg("missing pong for previous ping")
			}
			if err := conn.WriteJSON(s.deps.Protocol.PingRequest()); err != nil {
				log.Warn().Err(err).Msg("send ping failed")
			}
			awaitingPong = true
		case b := <-msgs:
			if s.handle(ctx, b) == port.MessagePong {
				awaitingPong = false
			}
		}
	}
}

func (s *Session) fetchToken(ctx context.Context) (*port.SessionToken, error) {
	d := s.deps
	var token *port.SessionToken
	err := resilience.Retry(ctx, d.Retry, "fetch stream token", func(ctx context.Context) error {
		if err := d.Limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		return d.Breaker.Execute(ctx, func(ctx context.Context) error {
			t, err := d.Tokens.PublicToken(ctx)
			if err != nil {
				return err
			}
			token = t
			return nil
		})
	})
	return token, err
}

func (s *Session) awaitWelcome(ctx context.Context, msgs <-chan []byte, readErr <-chan error) error {
	timer := time.NewTimer(s.cfg.WelcomeTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("transport closed before welcome: %w", err)
		case <-timer.C:
			return ErrNoWelcome
		case b := <-msgs:
			var msg port.StreamMessage
			if err := json.Unmarshal(b, &msg); err != nil {
				continue
			}
			if msg.Type == port.MessageWelcome {
				return nil
			}
		}
	}
}

func readLoop(conn port.StreamConn, msgs chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	for {
		b, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case msgs <- b:
		case <-done:
			return
		}
	}
}

// handle 解码并分发一条消息，返回消息类型
func (s *Session) handle(ctx context.Context, b []byte) string {
	var msg port.StreamMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Warn().Err(err).Msg("malformed stream message")
		return ""
	}
	switch msg.Type {
	case port.MessageData:
	case port.MessageError:
		log.Warn().RawJSON("data", msg.Data).Str("id", msg.ID).Msg("stream error message")
		return msg.Type
	default:
		return msg.Type
	}

	up, err := s.deps.Protocol.Decode(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("decode stream message failed")
		return msg.Type
	}

	var key model.BarKey
	switch up.Kind {
	case port.UpdateCandle:
		key = model.BarKey{Symbol: up.Bar.Symbol, Resolution: up.Bar.Resolution}
	case port.UpdateExecution:
		key = model.BarKey{Symbol: up.Execution.Symbol, Resolution: s.cfg.Primary}
	case port.UpdateQuote:
		key = model.BarKey{Symbol: up.Quote.Symbol, Resolution: s.cfg.Primary}
	default:
		return msg.Type
	}

	s.mu.Lock()
	w := s.workers[key]
	s.mu.Unlock()
	if w == nil {
		return msg.Type
	}
	w.send(ctx, up)
	return msg.Type
}

// UpdateInstruments 设置订阅品种，只对增量订阅 / 退订，未变化品种的指标状态保留
func (s *Session) UpdateInstruments(symbols []string) error {
	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			want[sym] = true
		}
	}

	s.mu.Lock()
	var added, removed []string
	for sym := range want {
		if !s.symbols[sym] {
			added = append(added, sym)
		} else if s.removing[sym] {
			// 重新加入，取消待移除
			delete(s.removing, sym)
		}
	}
	for sym := range s.symbols {
		if !want[sym] && !s.removing[sym] {
			removed = append(removed, sym)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	var addErr error
	ok := added[:0]
	for _, sym := range added {
		// 单个品种失败不影响其余品种的订阅
		if err := s.addSymbolLocked(sym); err != nil {
			addErr = errors.Join(addErr, err)
			continue
		}
		ok = append(ok, sym)
	}
	added = ok
	var dropped, deferred []string
	for _, sym := range removed {
		if s.deps.Risk != nil && s.deps.Risk.HasPosition(sym) {
			s.removing[sym] = true
			deferred = append(deferred, sym)
			continue
		}
		s.removeSymbolLocked(sym)
		dropped = append(dropped, sym)
	}
	conn := s.conn
	s.mu.Unlock()

	if len(added)+len(removed) > 0 {
		log.Info().
			Strs("added", added).
			Strs("removed", dropped).
			Strs("deferred", deferred).
			Msg("instrument set updated")
	}
	if conn != nil {
		s.writeSubscriptions(conn, s.topicsFor(added), true)
		s.writeSubscriptions(conn, s.topicsFor(dropped), false)
	}
	return addErr
}

// WatchUniverse 跟随品种快照更新订阅
func (s *Session) WatchUniverse(ctx context.Context, snapshots <-chan *model.Universe) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-snapshots:
			if u == nil {
				continue
			}
			s.SetUniverse(u)
			if err := s.UpdateInstruments(u.Symbols(s.cfg.MaxSymbols, s.cfg.MaxTier)); err != nil {
				log.Error().Err(err).Msg("update instruments failed")
			}
		}
	}
}

// positionClosed 平仓后完成延迟移除
func (s *Session) positionClosed(symbol string) {
	s.mu.Lock()
	if !s.removing[symbol] {
		s.mu.Unlock()
		return
	}
	delete(s.removing, symbol)
	s.removeSymbolLocked(symbol)
	conn := s.conn
	s.mu.Unlock()

	log.Info().Str("symbol", symbol).Msg("deferred instrument removal completed")
	if conn != nil {
		s.writeSubscriptions(conn, s.topicsFor([]string{symbol}), false)
	}
}

func (s *Session) writeSubscriptions(conn port.StreamConn, topics []string, subscribe bool) {
	for _, topic := range topics {
		if err := conn.WriteJSON(s.deps.Protocol.SubscribeRequest(topic, subscribe)); err != nil {
			// 连接已断开，重连时会按当前品种集合重订阅
			log.Warn().Err(err).Str("topic", topic).Bool("subscribe", subscribe).Msg("write subscription failed")
			return
		}
	}
}

func (s *Session) addSymbolLocked(sym string) error {
	slot := &compositeSlot{}
	var created []*worker
	for _, res := range []model.Resolution{s.cfg.Primary, s.cfg.Secondary} {
		set, err := s.deps.Indicators.NewSet()
		if err != nil {
			for _, w := range created {
				w.cancel()
			}
			return fmt.Errorf("indicators for %s: %w", sym, err)
		}
		key := model.BarKey{Symbol: sym, Resolution: res}
		created = append(created, newWorker(s, key, res == s.cfg.Primary, slot, set))
	}
	for _, w := range created {
		s.workers[w.key] = w
		if s.stopped != nil {
			s.startWorkerLocked(w)
		}
	}
	s.slots[sym] = slot
	s.symbols[sym] = true
	return nil
}

// startWorkerLocked Run 之前创建的 worker 没有绑定运行 ctx，在此重新绑定
func (s *Session) startWorkerLocked(w *worker) {
	if w.started {
		return
	}
	w.cancel()
	w.ctx, w.cancel = context.WithCancel(s.runCtx)
	w.started = true
	go w.run()
}

func (s *Session) removeSymbolLocked(sym string) {
	for _, res := range []model.Resolution{s.cfg.Primary, s.cfg.Secondary} {
		key := model.BarKey{Symbol: sym, Resolution: res}
		if w, ok := s.workers[key]; ok {
			w.cancel()
			delete(s.workers, key)
		}
	}
	delete(s.slots, sym)
	delete(s.symbols, sym)
}

func (s *Session) stopWorkers() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		if w.started {
			workers = append(workers, w)
		}
		w.cancel()
	}
	s.mu.Unlock()
	for _, w := range workers {
		<-w.done
	}
}

func (s *Session) sortedSymbolsLocked() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// topicsFor 每个品种两个周期的 K 线，实盘模式再加成交和最优报价
func (s *Session) topicsFor(symbols []string) []string {
	p := s.deps.Protocol
	out := make([]string, 0, len(symbols)*4)
	for _, sym := range symbols {
		out = append(out, p.CandleTopic(sym, s.cfg.Primary), p.CandleTopic(sym, s.cfg.Secondary))
		if s.cfg.Live {
			out = append(out, p.ExecutionTopic(sym), p.TickerTopic(sym))
		}
	}
	return out
}
