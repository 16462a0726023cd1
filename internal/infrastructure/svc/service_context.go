package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"xsig/internal/application/port"
	"xsig/internal/application/service"
	"xsig/internal/application/usecase/stream"
	domainservice "xsig/internal/domain/service"
	"xsig/internal/infrastructure/config"
	"xsig/internal/infrastructure/exchange/kucoin"
	"xsig/internal/infrastructure/indicator"
	"xsig/internal/infrastructure/metrics"
	"xsig/internal/infrastructure/resilience"
	"xsig/internal/infrastructure/storage"
	"xsig/internal/infrastructure/storage/composite"
	pgrepo "xsig/internal/infrastructure/storage/postgres"
	redisrepo "xsig/internal/infrastructure/storage/redis"
	sqliterepo "xsig/internal/infrastructure/storage/sqlite"
	"xsig/internal/interfaces/console"
)

// 订阅者缓冲，满了以后发布端阻塞
const subscriberBuffer = 256

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	client  *kucoin.Client
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	metrics *metrics.Metrics
	repo    port.SignalRepository

	// 应用组件
	universe  *service.UniverseManager
	broker    *stream.Broker
	session   *stream.Session
	signals   *service.SignalService
	snapshots *service.SnapshotService
	sink      *console.Sink

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 所有依赖按顺序在这里装配
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	cfg := sc.Config

	sc.client = kucoin.NewClient(cfg.Exchange.RestURL, cfg.Exchange.Timeout)
	sc.limiter = resilience.NewRateLimiter(cfg.Resilience.RateLimit, cfg.Resilience.RateInterval)
	sc.breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Resilience.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Resilience.Breaker.ResetTimeout,
	})
	sc.breaker.OnStateChange(func(from, to resilience.BreakerState) {
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	})
	sc.retry = resilience.DefaultRetryPolicy
	if r := cfg.Resilience.Retry; r.MaxAttempts > 0 {
		sc.retry.MaxAttempts = r.MaxAttempts
		if r.InitialDelay > 0 {
			sc.retry.InitialDelay = r.InitialDelay
		}
		if r.MaxDelay > 0 {
			sc.retry.MaxDelay = r.MaxDelay
		}
		if r.Multiplier > 0 {
			sc.retry.Multiplier = r.Multiplier
		}
	}

	sc.metrics = metrics.New()
	sc.metrics.WatchBreaker("rest", sc.breaker)

	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	sc.universe = service.NewUniverseManager(cfg.Universe, sc.client, sc.limiter, sc.breaker, sc.retry)
	sc.metrics.WatchUniverse(sc.universe.Health)

	registry := indicator.NewRegistry(cfg.Indicators)
	aggCfg := cfg.Aggregator
	weights := make(map[string]float64, len(aggCfg.IndicatorWeight))
	for k, v := range registry.Weights() {
		weights[k] = v
	}
	// 显式配置的聚合权重优先
	for k, v := range aggCfg.IndicatorWeight {
		weights[k] = v
	}
	aggCfg.IndicatorWeight = weights

	sc.broker = stream.NewBroker()
	sc.signals = service.NewSignalService(sc.repo)
	sc.snapshots = service.NewSnapshotService(sc.repo)
	if cfg.Console.Enabled {
		sc.sink = console.NewSink(cfg.Console.Trades)
	}

	sc.session = stream.NewSession(stream.Config{
		Primary:          cfg.PrimaryRes,
		Secondary:        cfg.SecondaryRes,
		Live:             cfg.App.Live,
		ReconnectDelay:   cfg.Session.ReconnectDelay,
		TokenRefresh:     cfg.Session.TokenRefresh,
		WelcomeTimeout:   cfg.Session.WelcomeTimeout,
		WorkerBuffer:     cfg.Session.WorkerBuffer,
		BarBufferSize:    cfg.Session.BarBufferSize,
		WarmupBars:       cfg.Session.WarmupBars,
		VolatilityBars:   cfg.Session.VolatilityBars,
		RequireEntryGate: *cfg.Session.RequireEntryGate,
		CloseOnStop:      cfg.Session.CloseOnStop,
		MaxSymbols:       cfg.Session.MaxSymbols,
		MaxTier:          cfg.Session.MaxTier,
	}, stream.Deps{
		Tokens:     sc.client,
		Dialer:     kucoin.NewDialer(),
		Protocol:   kucoin.Protocol{},
		Candles:    sc.client,
		Limiter:    sc.limiter,
		Breaker:    sc.breaker,
		Retry:      sc.retry,
		Indicators: registry,
		Aggregator: domainservice.NewSignalAggregator(aggCfg),
		Reconciler: domainservice.NewTimeframeReconciler(cfg.Reconciler),
		Cooldown:   domainservice.NewSignalCooldown(cfg.Cooldown.Window),
		Risk:       domainservice.NewRiskManager(cfg.Risk),
		Micro:      cfg.Micro,
		Publisher:  sc.broker,
		Observer:   sc.metrics,
	})
	if len(cfg.Session.Symbols) > 0 {
		if err := sc.session.UpdateInstruments(cfg.Session.Symbols); err != nil {
			return fmt.Errorf("static symbols: %w", err)
		}
	}

	log.Info().
		Str("primary", cfg.PrimaryRes.String()).
		Str("secondary", cfg.SecondaryRes.String()).
		Int("indicators", len(cfg.Indicators)).
		Int("static_symbols", len(cfg.Session.Symbols)).
		Bool("live", cfg.App.Live).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage Redis / SQLite / Postgres 按配置启用，全部关闭时退回内存
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.SignalRepository
	if sc.Config.Redis.Enabled {
		r, err := sc.initRedis()
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		repos = append(repos, r)
	}
	if sc.Config.SQLite.Enabled {
		r, err := sc.initSQLite()
		if err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		repos = append(repos, r)
	}
	if sc.Config.Postgres.Enabled {
		r, err := pgrepo.New(sc.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		sc.closerChain = append(sc.closerChain, r.Close)
		log.Info().Msg("✓ Postgres initialized")
		repos = append(repos, r)
	}

	if len(repos) == 0 {
		log.Warn().Msg("no storage enabled, keeping recent events in memory")
		sc.repo = storage.NewMemory(1000)
		return nil
	}
	sc.repo = composite.New(repos...)
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() (*redisrepo.Repo, error) {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	repo := redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		time.Duration(sc.Config.Redis.TTLSeconds)*time.Second,
		sc.Config.Redis.SignalStream,
		sc.Config.Redis.SignalChannel,
	)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return repo.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return repo, nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() (*sqliterepo.Repo, error) {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")
	return repo, nil
}

// Session 推送会话
func (sc *ServiceContext) Session() *stream.Session { return sc.session }

// Universe 品种管理器
func (sc *ServiceContext) Universe() *service.UniverseManager { return sc.universe }

// Run 启动全部后台任务，任一任务出错或 ctx 结束时整体退出
func (sc *ServiceContext) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// 订阅必须先于会话启动，避免丢掉最早的事件
	persisted := sc.broker.Subscribe("storage", subscriberBuffer)
	var printed <-chan port.Event
	if sc.sink != nil {
		printed = sc.broker.Subscribe("console", subscriberBuffer)
	}
	snapshots := sc.universe.Subscribe()

	// 事件消费者随 broker 关闭退出，这样停止时强平产生的交易也能落库
	drain := context.WithoutCancel(gctx)
	g.Go(func() error { return sc.signals.Run(drain, persisted) })
	g.Go(func() error { return sc.snapshots.Run(gctx, snapshots) })
	if printed != nil {
		g.Go(func() error { return sc.sink.Run(drain, printed) })
	}
	g.Go(func() error { return sc.universe.Run(gctx) })

	if len(sc.Config.Session.Symbols) == 0 {
		follow := sc.universe.Subscribe()
		g.Go(func() error { return sc.session.WatchUniverse(gctx, follow) })
	} else {
		static := sc.universe.Subscribe()
		// 固定品种模式下只用快照提供合约规格
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case u := <-static:
					if u != nil {
						sc.session.SetUniverse(u)
					}
				}
			}
		})
	}

	g.Go(func() error {
		err := sc.session.Run(gctx)
		// 会话结束后关闭 broker，让订阅者排空退出
		sc.broker.Close()
		return err
	})

	if addr := sc.Config.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return sc.metrics.Serve(gctx, addr) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 按相反顺序关闭所有资源
func (sc *ServiceContext) Close() error {
	var errs []error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			errs = append(errs, err)
		}
	}
	sc.closerChain = nil
	return errors.Join(errs...)
}
