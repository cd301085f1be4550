package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all process-wide configuration, loaded once at startup.
// Operator-tunable values (capital, allocations, pauses) live in the
// user_config table and override these defaults at runtime.
type Config struct {
	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Broker (SmartAPI-style REST + WebSocket)
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string
	BrokerBaseURL    string
	BrokerWSURL      string
	AuthMaxRetries   int
	WSConnectTimeout time.Duration

	// Universe
	ConstituentsPath    string // CSV of NSE symbols to track
	InstrumentMasterURL string
	NiftyToken          string // index token for regime inputs
	VIXToken            string

	// Historical data
	HistoricalFallbackURL string
	HistoricalConcurrency int           // semaphore cap on parallel REST fetches
	HistoricalCooldown    time.Duration // pause between prev-day and ADV fetch waves

	// Scan engine
	ScanInterval         time.Duration
	MaxConsecutiveErrors int

	// Strategy parameters
	Gap  GapConfig
	ORB  ORBConfig
	VWAP VWAPConfig

	// Composite scoring; weights must sum to 1
	ScoreWeightStrategy float64
	ScoreWeightWinRate  float64
	ScoreWeightRR       float64
	ScoreWeightConfirm  float64
	ConfirmWindowMin    int

	// Trailing stop-loss
	BreakevenTriggerPct float64
	TrailTriggerPct     float64
	TrailDistancePct    float64

	// Circuit breaker
	CircuitSLLimit int

	// Adaptive throttle
	ConsecutiveLossesThrottle int
	ConsecutiveLossesPause    int
	WinRateWarn5DPct          float64
	WinRatePause10DPct        float64

	// Risk sizing defaults (overridable via user_config)
	DefaultCapital      decimal.Decimal
	DefaultMaxPositions int
	MaxRiskPct          float64
	SignalExpiryMin     int
	ConfirmedDoubleCap  float64
	ConfirmedTripleCap  float64

	// News & sentiment
	NewsEnabled      bool
	NewsBaseURL      string
	NewsAPIKey       string
	EarningsBlackout bool
	SentimentTTL     time.Duration

	// Regime
	RegimeEnabled bool
	GlobalCuesURL string // JSON endpoint for overnight cues; neutral cues when empty

	// Persistence: sqlite path, or a postgres:// DSN
	DatabasePath string

	// Redis cache (disabled when addr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Dashboard
	DashboardHost string
	DashboardPort int

	Debug bool
}

// GapConfig parameterizes the Gap & Go strategy.
type GapConfig struct {
	MinGapPct          float64
	MaxGapPct          float64
	VolumeThresholdPct float64
	Target1Pct         float64
	Target2Pct         float64
	MaxRiskPct         float64
}

// ORBConfig parameterizes the Opening Range Breakout strategy.
type ORBConfig struct {
	MinRangePct      float64
	MaxRangePct      float64
	VolumeMultiplier float64
	MaxRiskPct       float64
	Target1Pct       float64
	Target2Pct       float64
	CutoffTime       string // "HH:MM" IST, no ORB entries after this
}

// VWAPConfig parameterizes the VWAP Reversal strategy.
type VWAPConfig struct {
	TouchThresholdPct    float64
	PullbackVolumeMult   float64
	ReclaimVolumeMult    float64
	Setup1SLBelowVWAPPct float64
	Target1Pct           float64
	Target2Pct           float64
	WindowStart          string // "HH:MM" IST
	WindowEnd            string
	MaxSignalsPerDay     int
	MinIntervalMin       int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Broker
		BrokerAPIKey:     os.Getenv("BROKER_API_KEY"),
		BrokerClientCode: os.Getenv("BROKER_CLIENT_CODE"),
		BrokerPassword:   os.Getenv("BROKER_PASSWORD"),
		BrokerTOTPSecret: os.Getenv("BROKER_TOTP_SECRET"),
		BrokerBaseURL:    getEnv("BROKER_BASE_URL", "https://apiconnect.angelbroking.com"),
		BrokerWSURL:      getEnv("BROKER_WS_URL", "wss://smartapisocket.angelone.in/smart-stream"),
		AuthMaxRetries:   getEnvInt("AUTH_MAX_RETRIES", 5),
		WSConnectTimeout: getEnvDuration("WS_CONNECT_TIMEOUT", 30*time.Second),

		// Universe
		ConstituentsPath:    getEnv("CONSTITUENTS_PATH", "data/nifty500.csv"),
		InstrumentMasterURL: getEnv("INSTRUMENT_MASTER_URL", "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"),
		NiftyToken:          getEnv("NIFTY_TOKEN", "99926000"),
		VIXToken:            getEnv("VIX_TOKEN", "99926017"),

		// Historical
		HistoricalFallbackURL: os.Getenv("HISTORICAL_FALLBACK_URL"),
		HistoricalConcurrency: getEnvInt("HISTORICAL_CONCURRENCY", 3),
		HistoricalCooldown:    getEnvDuration("HISTORICAL_COOLDOWN", 30*time.Second),

		// Scan engine
		ScanInterval:         getEnvDuration("SCAN_INTERVAL", time.Second),
		MaxConsecutiveErrors: getEnvInt("MAX_CONSECUTIVE_ERRORS", 10),

		Gap: GapConfig{
			MinGapPct:          getEnvFloat("GAP_MIN_PCT", 3.0),
			MaxGapPct:          getEnvFloat("GAP_MAX_PCT", 5.0),
			VolumeThresholdPct: getEnvFloat("GAP_VOLUME_THRESHOLD_PCT", 50.0),
			Target1Pct:         getEnvFloat("GAP_TARGET1_PCT", 5.0),
			Target2Pct:         getEnvFloat("GAP_TARGET2_PCT", 7.0),
			MaxRiskPct:         getEnvFloat("GAP_MAX_RISK_PCT", 3.0),
		},

		ORB: ORBConfig{
			MinRangePct:      getEnvFloat("ORB_MIN_RANGE_PCT", 0.5),
			MaxRangePct:      getEnvFloat("ORB_MAX_RANGE_PCT", 3.0),
			VolumeMultiplier: getEnvFloat("ORB_VOLUME_MULTIPLIER", 1.5),
			MaxRiskPct:       getEnvFloat("ORB_MAX_RISK_PCT", 3.0),
			Target1Pct:       getEnvFloat("ORB_TARGET1_PCT", 4.0),
			Target2Pct:       getEnvFloat("ORB_TARGET2_PCT", 6.0),
			CutoffTime:       getEnv("ORB_CUTOFF_TIME", "11:00"),
		},

		VWAP: VWAPConfig{
			TouchThresholdPct:    getEnvFloat("VWAP_TOUCH_THRESHOLD_PCT", 0.2),
			PullbackVolumeMult:   getEnvFloat("VWAP_PULLBACK_VOLUME_MULT", 1.2),
			ReclaimVolumeMult:    getEnvFloat("VWAP_RECLAIM_VOLUME_MULT", 1.5),
			Setup1SLBelowVWAPPct: getEnvFloat("VWAP_SL_BELOW_VWAP_PCT", 0.5),
			Target1Pct:           getEnvFloat("VWAP_TARGET1_PCT", 3.0),
			Target2Pct:           getEnvFloat("VWAP_TARGET2_PCT", 5.0),
			WindowStart:          getEnv("VWAP_WINDOW_START", "10:00"),
			WindowEnd:            getEnv("VWAP_WINDOW_END", "14:30"),
			MaxSignalsPerDay:     getEnvInt("VWAP_MAX_SIGNALS_PER_DAY", 2),
			MinIntervalMin:       getEnvInt("VWAP_MIN_INTERVAL_MIN", 30),
		},

		// Scoring
		ScoreWeightStrategy: getEnvFloat("SCORE_WEIGHT_STRATEGY", 0.40),
		ScoreWeightWinRate:  getEnvFloat("SCORE_WEIGHT_WINRATE", 0.25),
		ScoreWeightRR:       getEnvFloat("SCORE_WEIGHT_RR", 0.20),
		ScoreWeightConfirm:  getEnvFloat("SCORE_WEIGHT_CONFIRM", 0.15),
		ConfirmWindowMin:    getEnvInt("CONFIRM_WINDOW_MIN", 5),

		// Trailing SL
		BreakevenTriggerPct: getEnvFloat("BREAKEVEN_TRIGGER_PCT", 2.0),
		TrailTriggerPct:     getEnvFloat("TRAIL_TRIGGER_PCT", 4.0),
		TrailDistancePct:    getEnvFloat("TRAIL_DISTANCE_PCT", 2.0),

		// Circuit breaker
		CircuitSLLimit: getEnvInt("CIRCUIT_SL_LIMIT", 3),

		// Adaptive
		ConsecutiveLossesThrottle: getEnvInt("ADAPTIVE_LOSSES_THROTTLE", 3),
		ConsecutiveLossesPause:    getEnvInt("ADAPTIVE_LOSSES_PAUSE", 5),
		WinRateWarn5DPct:          getEnvFloat("ADAPTIVE_WARN_5D_PCT", 30.0),
		WinRatePause10DPct:        getEnvFloat("ADAPTIVE_PAUSE_10D_PCT", 25.0),

		// Risk
		DefaultCapital:      getEnvDecimal("DEFAULT_CAPITAL", decimal.NewFromInt(100000)),
		DefaultMaxPositions: getEnvInt("DEFAULT_MAX_POSITIONS", 3),
		MaxRiskPct:          getEnvFloat("MAX_RISK_PCT", 3.0),
		SignalExpiryMin:     getEnvInt("SIGNAL_EXPIRY_MIN", 30),
		ConfirmedDoubleCap:  getEnvFloat("CONFIRMED_DOUBLE_CAP", 1.25),
		ConfirmedTripleCap:  getEnvFloat("CONFIRMED_TRIPLE_CAP", 1.5),

		// News
		NewsEnabled:      getEnvBool("NEWS_ENABLED", true),
		NewsBaseURL:      os.Getenv("NEWS_BASE_URL"),
		NewsAPIKey:       os.Getenv("NEWS_API_KEY"),
		EarningsBlackout: getEnvBool("EARNINGS_BLACKOUT", true),
		SentimentTTL:     getEnvDuration("SENTIMENT_TTL", 30*time.Minute),

		// Regime
		RegimeEnabled: getEnvBool("REGIME_ENABLED", true),
		GlobalCuesURL: os.Getenv("GLOBAL_CUES_URL"),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/signals.db"),

		// Redis
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Dashboard
		DashboardHost: getEnv("DASHBOARD_HOST", "0.0.0.0"),
		DashboardPort: getEnvInt("DASHBOARD_PORT", 8080),

		Debug: getEnvBool("DEBUG", false),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate required fields
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	sum := cfg.ScoreWeightStrategy + cfg.ScoreWeightWinRate + cfg.ScoreWeightRR + cfg.ScoreWeightConfirm
	if sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("score weights must sum to 1, got %.3f", sum)
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
