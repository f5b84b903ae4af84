package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Feed      FeedConfig      `yaml:"feed"`
	State     StateConfig     `yaml:"state"`
	Engine    EngineConfig    `yaml:"engine"`
	Risk      RiskConfig      `yaml:"risk"`
	Readiness ReadinessConfig `yaml:"readiness"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Reserve   ReserveConfig   `yaml:"reserve"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Markets   []MarketConfig  `yaml:"markets"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	BackoffFloor   time.Duration `yaml:"backoff_floor"`
	BackoffCeiling time.Duration `yaml:"backoff_ceiling"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type RiskConfig struct {
	NotionalThresholdUSD    float64       `yaml:"notional_threshold_usd"`
	AgeThreshold            time.Duration `yaml:"age_threshold"`
	ScoreThreshold          float64       `yaml:"score_threshold"`
	CPPEmergencyThreshold   float64       `yaml:"cpp_emergency_threshold"`
	CPPImplausibleThreshold float64       `yaml:"cpp_implausible_threshold"`
	HardSkewCap             float64       `yaml:"hard_skew_cap"`
	SkewAgeEmergency        time.Duration `yaml:"skew_age_emergency"`
	MaxEmergency            time.Duration `yaml:"max_emergency"`
	EmergencyCooldown       time.Duration `yaml:"emergency_cooldown"`
	RebalanceThreshold      float64       `yaml:"rebalance_threshold"`
	DeepDislocationAsk      float64       `yaml:"deep_dislocation_ask"`
	UnwindTimeRemaining     time.Duration `yaml:"unwind_time_remaining"`
	HedgeLagTimeout         time.Duration `yaml:"hedge_lag_timeout"`
	NoLiquidityStreak       int           `yaml:"no_liquidity_streak"`
}

type ReadinessConfig struct {
	Freshness      time.Duration `yaml:"freshness"`
	DisableTimeout time.Duration `yaml:"disable_timeout"`
}

type RateLimitConfig struct {
	MaxOrdersPerMarketPerMinute  int           `yaml:"max_orders_per_market_per_minute"`
	MaxCancelsPerMarketPerMinute int           `yaml:"max_cancels_per_market_per_minute"`
	MaxOrdersGlobalPerMinute     int           `yaml:"max_orders_global_per_minute"`
	MaxCancelsGlobalPerMinute    int           `yaml:"max_cancels_global_per_minute"`
	MarketPause                  time.Duration `yaml:"market_pause"`
	GlobalPause                  time.Duration `yaml:"global_pause"`
	BreakerFailures              int           `yaml:"breaker_failures"`
	BreakerReset                 time.Duration `yaml:"breaker_reset"`
}

type HedgeConfig struct {
	MaxRetries          int           `yaml:"max_retries"`
	PriceIncrement      float64       `yaml:"price_increment"`
	SizeReductionFactor float64       `yaml:"size_reduction_factor"`
	MinLotShares        float64       `yaml:"min_lot_shares"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	PanicWindow         time.Duration `yaml:"panic_window"`
	SurvivalWindow      time.Duration `yaml:"survival_window"`
	NormalPriceCeiling  float64       `yaml:"normal_price_ceiling"`
	UrgentPriceCeiling  float64       `yaml:"urgent_price_ceiling"`
	PanicPriceCeiling   float64       `yaml:"panic_price_ceiling"`
	RateLimitWaitMax    time.Duration `yaml:"rate_limit_wait_max"`
}

type ReserveConfig struct {
	SafetyBufferUSD float64       `yaml:"safety_buffer_usd"`
	MinBalanceUSD   float64       `yaml:"min_balance_usd"`
	BalanceTTL      time.Duration `yaml:"balance_ttl"`
}

type EventsConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	DSN                     string        `yaml:"dsn"`
	Schema                  string        `yaml:"schema"`
	QueueCap                int           `yaml:"queue_cap"`
	SkipLogInterval         time.Duration `yaml:"skip_log_interval"`
	ImplausibleWarnInterval time.Duration `yaml:"implausible_warn_interval"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// MarketConfig describes one binary market and its two outcome tokens.
type MarketConfig struct {
	ID          string    `yaml:"id"`
	Asset       string    `yaml:"asset"`
	UpTokenID   string    `yaml:"up_token_id"`
	DownTokenID string    `yaml:"down_token_id"`
	ClosesAt    time.Time `yaml:"closes_at"`
}

type TelegramConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Token                string        `yaml:"token"`
	ChatID               string        `yaml:"chat_id"`
	OperatorEnabled      bool          `yaml:"operator_enabled"`
	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUsers []int64       `yaml:"operator_allowed_users"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://clob.polymarket.com"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.BackoffFloor == 0 {
		cfg.Gateway.BackoffFloor = 200 * time.Millisecond
	}
	if cfg.Gateway.BackoffCeiling == 0 {
		cfg.Gateway.BackoffCeiling = 5 * time.Second
	}
	if cfg.Feed.URL == "" {
		cfg.Feed.URL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 10 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/pm-updown-bot.db"
	}
	if cfg.Engine.TickInterval == 0 {
		cfg.Engine.TickInterval = 1 * time.Second
	}
	applyRiskDefaults(&cfg.Risk)
	if cfg.Readiness.Freshness == 0 {
		cfg.Readiness.Freshness = 2 * time.Second
	}
	if cfg.Readiness.DisableTimeout == 0 {
		cfg.Readiness.DisableTimeout = 12 * time.Second
	}
	applyRateLimitDefaults(&cfg.RateLimit)
	applyHedgeDefaults(&cfg.Hedge)
	if cfg.Reserve.SafetyBufferUSD == 0 {
		cfg.Reserve.SafetyBufferUSD = 5
	}
	if cfg.Reserve.MinBalanceUSD == 0 {
		cfg.Reserve.MinBalanceUSD = 10
	}
	if cfg.Reserve.BalanceTTL == 0 {
		cfg.Reserve.BalanceTTL = 10 * time.Second
	}
	if cfg.Events.QueueCap == 0 {
		cfg.Events.QueueCap = 1024
	}
	if cfg.Events.SkipLogInterval == 0 {
		cfg.Events.SkipLogInterval = 5 * time.Second
	}
	if cfg.Events.ImplausibleWarnInterval == 0 {
		cfg.Events.ImplausibleWarnInterval = 30 * time.Second
	}
	if cfg.Events.Schema == "" {
		cfg.Events.Schema = "public"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9100"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func applyRiskDefaults(r *RiskConfig) {
	if r.NotionalThresholdUSD == 0 {
		r.NotionalThresholdUSD = 50
	}
	if r.AgeThreshold == 0 {
		r.AgeThreshold = 45 * time.Second
	}
	if r.ScoreThreshold == 0 {
		r.ScoreThreshold = 1500
	}
	if r.CPPEmergencyThreshold == 0 {
		r.CPPEmergencyThreshold = 1.05
	}
	if r.CPPImplausibleThreshold == 0 {
		r.CPPImplausibleThreshold = 2.0
	}
	if r.HardSkewCap == 0 {
		r.HardSkewCap = 0.95
	}
	if r.SkewAgeEmergency == 0 {
		r.SkewAgeEmergency = 120 * time.Second
	}
	if r.MaxEmergency == 0 {
		r.MaxEmergency = 5 * time.Minute
	}
	if r.EmergencyCooldown == 0 {
		r.EmergencyCooldown = 3 * time.Minute
	}
	if r.RebalanceThreshold == 0 {
		r.RebalanceThreshold = 0.2
	}
	if r.DeepDislocationAsk == 0 {
		r.DeepDislocationAsk = 0.9
	}
	if r.UnwindTimeRemaining == 0 {
		r.UnwindTimeRemaining = 90 * time.Second
	}
	if r.HedgeLagTimeout == 0 {
		r.HedgeLagTimeout = 2 * time.Minute
	}
	if r.NoLiquidityStreak == 0 {
		r.NoLiquidityStreak = 5
	}
}

func applyRateLimitDefaults(r *RateLimitConfig) {
	if r.MaxOrdersPerMarketPerMinute == 0 {
		r.MaxOrdersPerMarketPerMinute = 12
	}
	if r.MaxCancelsPerMarketPerMinute == 0 {
		r.MaxCancelsPerMarketPerMinute = 20
	}
	if r.MaxOrdersGlobalPerMinute == 0 {
		r.MaxOrdersGlobalPerMinute = 60
	}
	if r.MaxCancelsGlobalPerMinute == 0 {
		r.MaxCancelsGlobalPerMinute = 90
	}
	if r.MarketPause == 0 {
		r.MarketPause = 30 * time.Second
	}
	if r.GlobalPause == 0 {
		r.GlobalPause = 60 * time.Second
	}
	if r.BreakerFailures == 0 {
		r.BreakerFailures = 5
	}
	if r.BreakerReset == 0 {
		r.BreakerReset = 120 * time.Second
	}
}

func applyHedgeDefaults(h *HedgeConfig) {
	if h.MaxRetries == 0 {
		h.MaxRetries = 3
	}
	if h.PriceIncrement == 0 {
		h.PriceIncrement = 0.01
	}
	if h.SizeReductionFactor == 0 {
		h.SizeReductionFactor = 0.8
	}
	if h.MinLotShares == 0 {
		h.MinLotShares = 5
	}
	if h.RetryDelay == 0 {
		h.RetryDelay = 750 * time.Millisecond
	}
	if h.PanicWindow == 0 {
		h.PanicWindow = 20 * time.Second
	}
	if h.SurvivalWindow == 0 {
		h.SurvivalWindow = 60 * time.Second
	}
	if h.NormalPriceCeiling == 0 {
		h.NormalPriceCeiling = 0.97
	}
	if h.UrgentPriceCeiling == 0 {
		h.UrgentPriceCeiling = 0.99
	}
	if h.PanicPriceCeiling == 0 {
		h.PanicPriceCeiling = 0.99
	}
	if h.RateLimitWaitMax == 0 {
		h.RateLimitWaitMax = 2 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Risk.CPPImplausibleThreshold <= cfg.Risk.CPPEmergencyThreshold {
		return errors.New("risk.cpp_implausible_threshold must exceed risk.cpp_emergency_threshold")
	}
	if cfg.Risk.HardSkewCap <= 0.5 || cfg.Risk.HardSkewCap > 1 {
		return errors.New("risk.hard_skew_cap must be in (0.5, 1]")
	}
	if cfg.Hedge.SizeReductionFactor <= 0 || cfg.Hedge.SizeReductionFactor >= 1 {
		return errors.New("hedge.size_reduction_factor must be in (0, 1)")
	}
	if cfg.Reserve.SafetyBufferUSD < 0 {
		return errors.New("reserve.safety_buffer_usd must not be negative")
	}
	for i, m := range cfg.Markets {
		if m.ID == "" {
			return fmt.Errorf("markets[%d]: id is required", i)
		}
		if m.UpTokenID == "" || m.DownTokenID == "" {
			return fmt.Errorf("markets[%d]: up_token_id and down_token_id are required", i)
		}
	}
	return nil
}
