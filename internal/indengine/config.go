package indengine

import (
	"crypto-systemv1/internal/config"
	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/portfolio"
)

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	RedisAddr         string
	RedisPassword     string
	SQLitePath        string
	ConsumerGroup     string
	ConsumerName      string
	EnabledTFs        []int
	SnapshotIntervalS int
	Markets           []string // "exchange:symbol" keys; empty = discover from Redis
	SnapshotKey       string
	HTTPAddr          string
	PELIntervalS      int
	PELMinIdleMs      int64
	IndicatorConfigs  []indicator.TFIndicatorConfig

	// AdminTOTPSecret guards mutating admin endpoints. Empty disables them.
	AdminTOTPSecret string

	// RESTBackfill fetches exchange klines to warm indicators when neither
	// snapshots nor SQLite have history.
	RESTBackfill bool

	// Paper trading loop. Disabled by default.
	StrategyEnabled bool
	StrategyTF      int // which timeframe feeds strategies
	InitialEquity   float64
	SlippageBps     float64
	Sizing          portfolio.SizingParams
	Limits          portfolio.Limits
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	enabledTFs := config.ParseTFs(config.GetEnv("ENABLED_TFS", "60,120,180,300"))
	indSpecs := config.ParseIndicatorSpecs(config.GetEnv("INDICATOR_CONFIGS", ""))

	sizing := portfolio.DefaultSizingParams()
	sizing.RiskPerTrade = config.GetEnvFloat("RISK_PER_TRADE", sizing.RiskPerTrade)
	sizing.StopLossPct = config.GetEnvFloat("STOP_LOSS_PCT", sizing.StopLossPct)
	sizing.TakeProfitPct = config.GetEnvFloat("TAKE_PROFIT_PCT", sizing.TakeProfitPct)
	sizing.MaxPositionSize = config.GetEnvFloat("MAX_POSITION_SIZE", sizing.MaxPositionSize)

	limits := portfolio.DefaultLimits()
	limits.MaxDailyLoss = config.GetEnvFloat("MAX_DAILY_LOSS", limits.MaxDailyLoss)
	limits.MaxOpenPositions = config.GetEnvInt("MAX_OPEN_POSITIONS", limits.MaxOpenPositions)
	limits.MaxExposure = config.GetEnvFloat("MAX_EXPOSURE", limits.MaxExposure)
	limits.MaxDrawdownPct = config.GetEnvFloat("MAX_DRAWDOWN_PCT", limits.MaxDrawdownPct)

	return Config{
		RedisAddr:         config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     config.GetEnv("REDIS_PASSWORD", ""),
		SQLitePath:        config.GetEnv("SQLITE_PATH", "data/candles.db"),
		ConsumerGroup:     config.GetEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:      config.GetEnv("CONSUMER_NAME", "worker-1"),
		EnabledTFs:        enabledTFs,
		SnapshotIntervalS: config.GetEnvInt("SNAPSHOT_INTERVAL_SEC", 30),
		Markets:           config.ParseMarkets(config.GetEnv("MARKETS", "")),
		SnapshotKey:       config.GetEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),
		HTTPAddr:          config.GetEnv("INDENGINE_HTTP_ADDR", ":9095"),
		PELIntervalS:      config.GetEnvInt("PEL_RECLAIM_INTERVAL_SEC", 30),
		PELMinIdleMs:      config.GetEnvInt64("PEL_MIN_IDLE_MS", 60000),
		IndicatorConfigs:  config.BuildTFConfigs(enabledTFs, indSpecs),

		AdminTOTPSecret: config.GetEnv("ADMIN_TOTP_SECRET", ""),
		RESTBackfill:    config.GetEnvBool("REST_BACKFILL", true),

		StrategyEnabled: config.GetEnvBool("STRATEGY_ENABLED", false),
		StrategyTF:      config.GetEnvInt("STRATEGY_TF", 60),
		InitialEquity:   config.GetEnvFloat("INITIAL_EQUITY", 10000),
		SlippageBps:     config.GetEnvFloat("SLIPPAGE_BPS", 5),
		Sizing:          sizing,
		Limits:          limits,
	}
}
