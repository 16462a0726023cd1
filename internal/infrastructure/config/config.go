package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	appservice "xsig/internal/application/service"
	"xsig/internal/domain/model"
	"xsig/internal/domain/service"
	"xsig/internal/infrastructure/exchange/kucoin"
	"xsig/internal/infrastructure/indicator"
)

type Config struct {
	App struct {
		LogLevel  string `toml:"log_level"`
		LogFormat string `toml:"log_format"` // console / json
		Live      bool   `toml:"live"`       // 订阅成交和最优报价，启用订单流
	} `toml:"app"`

	Exchange struct {
		RestURL string        `toml:"rest_url"`
		Timeout time.Duration `toml:"timeout"`
	} `toml:"exchange"`

	Resilience struct {
		RateLimit    int           `toml:"rate_limit"` // 每 RateInterval 允许的请求数
		RateInterval time.Duration `toml:"rate_interval"`
		Breaker      BreakerConfig `toml:"breaker"`
		Retry        RetryConfig   `toml:"retry"`
	} `toml:"resilience"`

	Universe appservice.UniverseConfig `toml:"universe"`

	Session struct {
		Primary          string        `toml:"primary"`
		Secondary        string        `toml:"secondary"`
		Symbols          []string      `toml:"symbols"` // 固定品种列表，为空时跟随品种管理器
		MaxSymbols       int           `toml:"max_symbols"`
		MaxTier          int           `toml:"max_tier"`
		ReconnectDelay   time.Duration `toml:"reconnect_delay"`
		TokenRefresh     time.Duration `toml:"token_refresh"`
		WelcomeTimeout   time.Duration `toml:"welcome_timeout"`
		WarmupBars       int           `toml:"warmup_bars"`
		BarBufferSize    int           `toml:"bar_buffer_size"`
		WorkerBuffer     int           `toml:"worker_buffer"`
		VolatilityBars   int           `toml:"volatility_bars"`
		RequireEntryGate *bool         `toml:"require_entry_gate"`
		CloseOnStop      bool          `toml:"close_on_stop"`
	} `toml:"session"`

	Indicators []indicator.Spec             `toml:"indicators"`
	Aggregator service.AggregatorConfig     `toml:"aggregator"`
	Reconciler service.ReconcilerConfig     `toml:"reconciler"`
	Risk       service.RiskConfig           `toml:"risk"`
	Micro      service.MicrostructureConfig `toml:"microstructure"`

	Cooldown struct {
		Window time.Duration `toml:"window"`
	} `toml:"cooldown"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		TTLSeconds    int    `toml:"ttl_seconds"`
		SignalStream  string `toml:"signal_stream"`
		SignalChannel string `toml:"signal_channel"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	Metrics struct {
		ListenAddr string `toml:"listen_addr"` // 为空则不监听
	} `toml:"metrics"`

	Console struct {
		Enabled bool `toml:"enabled"`
		Trades  bool `toml:"trades"`
	} `toml:"console"`

	// 解析后的周期
	PrimaryRes   model.Resolution `toml:"-"`
	SecondaryRes model.Resolution `toml:"-"`
}

type BreakerConfig struct {
	FailureThreshold int           `toml:"failure_threshold"`
	SuccessThreshold int           `toml:"success_threshold"`
	ResetTimeout     time.Duration `toml:"reset_timeout"`
}

type RetryConfig struct {
	MaxAttempts  int           `toml:"max_attempts"`
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Multiplier   float64       `toml:"multiplier"`
}

// Load 读取 TOML，叠加 .env / 环境变量，填默认值并校验
// path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	// .env 不存在时忽略
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 内置默认值，TOML 解码在其之上覆盖
func Default() *Config {
	cfg := &Config{}
	cfg.App.LogLevel = "info"
	cfg.App.LogFormat = "console"
	cfg.Exchange.RestURL = kucoin.DefaultRestURL
	cfg.Exchange.Timeout = 10 * time.Second
	cfg.Resilience.RateLimit = 30
	cfg.Resilience.RateInterval = 3 * time.Second
	cfg.Universe = appservice.DefaultUniverseConfig()
	cfg.Session.Primary = "15min"
	cfg.Session.Secondary = "1hour"
	cfg.Aggregator = service.DefaultAggregatorConfig()
	cfg.Reconciler = service.DefaultReconcilerConfig()
	cfg.Risk = service.DefaultRiskConfig()
	cfg.Micro = service.DefaultMicrostructureConfig()
	cfg.Cooldown.Window = 4 * time.Hour
	cfg.Redis.Prefix = "xsig"
	cfg.SQLite.Path = "data/xsig.db"
	cfg.Console.Enabled = true
	return cfg
}

// applyEnv 密钥和地址类配置以环境变量为准
func applyEnv(cfg *Config) {
	if v := os.Getenv("XSIG_REST_URL"); v != "" {
		cfg.Exchange.RestURL = v
	}
	if v := os.Getenv("XSIG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("XSIG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("XSIG_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("XSIG_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
		cfg.SQLite.Enabled = true
	}
	if v := os.Getenv("XSIG_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("XSIG_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v, err := strconv.ParseBool(os.Getenv("XSIG_LIVE")); err == nil {
		cfg.App.Live = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Exchange.Timeout <= 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.Resilience.RateLimit <= 0 {
		cfg.Resilience.RateLimit = 30
	}
	if cfg.Resilience.RateInterval <= 0 {
		cfg.Resilience.RateInterval = 3 * time.Second
	}
	if cfg.Session.MaxSymbols <= 0 {
		cfg.Session.MaxSymbols = 30
	}
	if cfg.Session.WarmupBars <= 0 {
		cfg.Session.WarmupBars = 200
	}
	if cfg.Session.RequireEntryGate == nil {
		t := true
		cfg.Session.RequireEntryGate = &t
	}
	if cfg.Cooldown.Window <= 0 {
		cfg.Cooldown.Window = 4 * time.Hour
	}
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = indicator.DefaultSpecs()
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "xsig"
	}
	cfg.Session.Symbols = normalizeSymbols(cfg.Session.Symbols)
	cfg.Universe.Blacklist = normalizeSymbols(cfg.Universe.Blacklist)
}

func validate(cfg *Config) error {
	var errs []error

	primary, err := model.ParseResolution(cfg.Session.Primary)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.primary: %w", err))
	}
	secondary, err := model.ParseResolution(cfg.Session.Secondary)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.secondary: %w", err))
	}
	if primary > 0 && secondary > 0 && secondary <= primary {
		errs = append(errs, fmt.Errorf("session.secondary (%s) must be longer than session.primary (%s)", secondary, primary))
	}
	cfg.PrimaryRes, cfg.SecondaryRes = primary, secondary

	switch strings.ToLower(cfg.App.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("app.log_format %q must be console or json", cfg.App.LogFormat))
	}
	if strings.TrimSpace(cfg.Exchange.RestURL) == "" {
		errs = append(errs, errors.New("exchange.rest_url is empty"))
	}
	if err := indicator.NewRegistry(cfg.Indicators).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("indicators: %w", err))
	}

	r := cfg.Risk
	if r.MarginPerTrade <= 0 {
		errs = append(errs, errors.New("risk.margin_per_trade must be > 0"))
	}
	if r.MinLeverage <= 0 || r.MaxLeverage < r.MinLeverage {
		errs = append(errs, errors.New("risk leverage bounds invalid: need 0 < min_leverage <= max_leverage"))
	}
	if r.StopLossROI <= 0 {
		errs = append(errs, errors.New("risk.stop_loss_roi must be > 0"))
	}
	if r.TrailingEnabled && r.TrailingDistanceROI <= 0 {
		errs = append(errs, errors.New("risk.trailing_distance_roi must be > 0 when trailing is enabled"))
	}
	if w := cfg.Universe.Weights; w.Turnover < 0 || w.OpenInterest < 0 || w.Spread < 0 {
		errs = append(errs, errors.New("universe.weights must be non-negative"))
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr empty but enabled"))
	}
	if cfg.SQLite.Enabled && strings.TrimSpace(cfg.SQLite.Path) == "" {
		errs = append(errs, errors.New("sqlite.path empty but enabled"))
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		errs = append(errs, errors.New("postgres.dsn empty but enabled"))
	}
	return errors.Join(errs...)
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
