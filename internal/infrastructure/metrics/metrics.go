package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"xsig/internal/application/service"
	"xsig/internal/application/usecase/stream"
	"xsig/internal/domain/model"
	"xsig/internal/infrastructure/resilience"
)

const namespace = "xsig"

// Metrics 运行指标，使用独立 registry
type Metrics struct {
	reg *prometheus.Registry

	sessionState      prometheus.Gauge
	reconnects        *prometheus.CounterVec
	barsProcessed     *prometheus.CounterVec
	barsDiscarded     *prometheus.CounterVec
	signalsPublished  *prometheus.CounterVec
	signalsSuppressed *prometheus.CounterVec
	tradesClosed      *prometheus.CounterVec
	realizedPnL       prometheus.Gauge
	openPositions     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_state",
			Help: "Stream session state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_reconnects_total", Help: "Stream reconnects",
		}, []string{"reason"}),
		barsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bars_processed_total", Help: "Closed bars processed",
		}, []string{"resolution"}),
		barsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bars_discarded_total", Help: "Bars discarded before processing",
		}, []string{"reason"}),
		signalsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_published_total", Help: "Aligned signals published",
		}, []string{"direction"}),
		signalsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_suppressed_total", Help: "Aligned signals suppressed",
		}, []string{"reason"}),
		tradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_closed_total", Help: "Positions closed",
		}, []string{"reason"}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realized_pnl", Help: "Cumulative realized PnL (quote currency, net of fees)",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions", Help: "Open simulated positions",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		m.sessionState, m.reconnects, m.barsProcessed, m.barsDiscarded,
		m.signalsPublished, m.signalsSuppressed, m.tradesClosed, m.realizedPnL, m.openPositions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchUniverse 品种管理器健康度，采集时读取
func (m *Metrics) WatchUniverse(health func() service.UniverseHealth) {
	gauge := func(name, help string, fn func(h service.UniverseHealth) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "universe", Name: name, Help: help},
			func() float64 { return fn(health()) })
	}
	m.reg.MustRegister(
		gauge("age_seconds", "Seconds since the last successful refresh", func(h service.UniverseHealth) float64 { return h.AgeSeconds }),
		gauge("consecutive_failures", "Refresh failures since the last success", func(h service.UniverseHealth) float64 { return float64(h.ConsecutiveFailures) }),
		gauge("instruments", "Instruments in the current snapshot", func(h service.UniverseHealth) float64 { return float64(h.Count) }),
		gauge("degraded", "1 when serving a stale snapshot", func(h service.UniverseHealth) float64 { return boolFloat(h.Degraded) }),
	)
}

// WatchBreaker 熔断器状态（0 closed, 1 open, 2 half-open）
func (m *Metrics) WatchBreaker(name string, b *resilience.CircuitBreaker) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "breaker_state",
		Help:        "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		ConstLabels: prometheus.Labels{"breaker": name},
	}, func() float64 { return float64(b.State()) }))
}

// ========== stream.Observer ==========

func (m *Metrics) SessionState(s stream.State) { m.sessionState.Set(float64(s)) }

func (m *Metrics) Reconnect(reason string) { m.reconnects.WithLabelValues(reason).Inc() }

func (m *Metrics) BarProcessed(key model.BarKey) {
	m.barsProcessed.WithLabelValues(key.Resolution.String()).Inc()
}

func (m *Metrics) BarDiscarded(_ model.BarKey, reason string) {
	m.barsDiscarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) SignalPublished(_ string, dir model.Direction) {
	m.signalsPublished.WithLabelValues(string(dir)).Inc()
}

func (m *Metrics) SignalSuppressed(_ string, reason string) {
	m.signalsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) TradeClosed(t model.Trade) {
	m.tradesClosed.WithLabelValues(string(t.Reason)).Inc()
	m.realizedPnL.Add(t.RealizedPnL)
}

func (m *Metrics) OpenPositions(n int) { m.openPositions.Set(float64(n)) }

var _ stream.Observer = (*Metrics)(nil)

// Serve 启动 /metrics 监听，ctx 结束时关闭
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("metrics listener started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
