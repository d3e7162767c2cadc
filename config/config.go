package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Execution mode
	DryRun bool // No orders are sent; positions are still persisted and monitored

	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instrument selection
	QuoteAsset string // e.g. "USDT"
	MaxSymbols int    // How many top-volume symbols to enter per day

	// Position sizing
	StakePercent  float64 // Fraction of the free quote balance committed per cycle
	MaxStake      float64 // Hard cap on the per-cycle stake, in quote asset
	MinAllocation float64 // Skip per-symbol allocations below this amount
	DryRunBalance float64 // Simulated free balance used when DryRun is set

	// Holding / exits
	HoldHoursPool       []int   // Candidate holding periods, one picked per cycle
	StopLossEnabled     bool
	StopLossThreshold   float64 // e.g. 0.05 for 5% below entry
	TakeProfitEnabled   bool
	TakeProfitThreshold float64 // e.g. 0.10 for 10% above entry

	// Monitor scheduling
	BaseCheckInterval   time.Duration
	QuickCheckInterval  time.Duration
	TimeToExitThreshold float64 // Hours-to-exit below which checks tighten
	MonitorFallback     time.Duration
	SnapshotWindowDays  int

	// Quote cache
	CacheTTL        time.Duration // Coarse TTL (tickers, balances)
	PriceTTL        time.Duration // Fine TTL (per-symbol prices)
	StreamFreshness time.Duration // Max age of a stream price before polling
	StreamEnabled   bool

	// Market safety gate
	MarketSafetyEnabled   bool
	SafetySymbol          string
	MaxDailyChangePercent float64
	MaxVolatility         float64

	// Retry / remote calls
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	RequestTimeout   time.Duration
	OrderPause       time.Duration

	// Scheduling
	HealthCheckInterval time.Duration

	// Stream reconnect
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Database
	DBPath string

	// Logging
	LogLevel string

	// Notifications
	NotificationsEnabled bool
	TelegramBotToken     string
	TelegramChatID       int64
	DiscordWebhookURL    string

	// Warnings collected during load: values that were corrected to safe
	// defaults rather than rejected. Logged once at startup.
	Warnings []string
}

// Safe fallbacks for out-of-range sizing configuration. Kept in sync with the
// risk model's own defaults.
const (
	defaultStakePercent = 0.1
	defaultMaxStake     = 1000.0
)

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Execution mode first: it decides whether API keys are required.
	cfg.DryRun = getEnvAsBool("DRY_RUN", true) // Default to dry-run for safety

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	if !cfg.DryRun {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set when DRY_RUN is disabled")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set when DRY_RUN is disabled")
		}
	}

	// Instrument selection
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}
	cfg.MaxSymbols, err = getEnvAsIntRequired("MAX_SYMBOLS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_SYMBOLS: %v", err))
	} else if cfg.MaxSymbols <= 0 {
		errs = append(errs, "MAX_SYMBOLS must be positive")
	}

	// Position sizing. Unparseable values are fatal; out-of-range values are
	// corrected to the safe defaults with a warning.
	cfg.StakePercent, err = getEnvAsFloatRequired("STAKE_PERCENT", defaultStakePercent)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STAKE_PERCENT: %v", err))
	} else if cfg.StakePercent <= 0 || cfg.StakePercent > 1 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"STAKE_PERCENT %v out of range (0, 1], using default %v", cfg.StakePercent, defaultStakePercent))
		cfg.StakePercent = defaultStakePercent
	}
	cfg.MaxStake, err = getEnvAsFloatRequired("MAX_STAKE", defaultMaxStake)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_STAKE: %v", err))
	} else if cfg.MaxStake <= 0 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"MAX_STAKE %v is not positive, using default %v", cfg.MaxStake, defaultMaxStake))
		cfg.MaxStake = defaultMaxStake
	}
	cfg.MinAllocation, err = getEnvAsFloatRequired("MIN_ALLOCATION", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_ALLOCATION: %v", err))
	} else if cfg.MinAllocation < 0 {
		errs = append(errs, "MIN_ALLOCATION cannot be negative")
	}
	cfg.DryRunBalance, err = getEnvAsFloatRequired("DRY_RUN_BALANCE", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DRY_RUN_BALANCE: %v", err))
	} else if cfg.DryRunBalance < 0 {
		errs = append(errs, "DRY_RUN_BALANCE cannot be negative")
	}

	// Holding / exits
	cfg.HoldHoursPool, err = getEnvAsIntSlice("HOLD_HOURS_POOL", []int{8, 10, 12})
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HOLD_HOURS_POOL: %v", err))
	} else {
		for _, h := range cfg.HoldHoursPool {
			if h <= 0 {
				errs = append(errs, "HOLD_HOURS_POOL entries must be positive")
				break
			}
		}
	}

	cfg.StopLossEnabled = getEnvAsBool("STOPLOSS_ENABLED", true)
	cfg.StopLossThreshold, err = getEnvAsFloatRequired("STOPLOSS_THRESHOLD", 0.05)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOPLOSS_THRESHOLD: %v", err))
	} else if cfg.StopLossEnabled && (cfg.StopLossThreshold <= 0 || cfg.StopLossThreshold >= 1.0) {
		errs = append(errs, "STOPLOSS_THRESHOLD must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitEnabled = getEnvAsBool("TAKEPROFIT_ENABLED", false)
	cfg.TakeProfitThreshold, err = getEnvAsFloatRequired("TAKEPROFIT_THRESHOLD", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKEPROFIT_THRESHOLD: %v", err))
	} else if cfg.TakeProfitEnabled && cfg.TakeProfitThreshold <= 0 {
		errs = append(errs, "TAKEPROFIT_THRESHOLD must be positive")
	}

	// Monitor scheduling
	cfg.BaseCheckInterval = getEnvAsMinutes("BASE_CHECK_MINUTES", 30, &errs)
	cfg.QuickCheckInterval = getEnvAsMinutes("QUICK_CHECK_MINUTES", 1, &errs)
	if cfg.QuickCheckInterval > cfg.BaseCheckInterval {
		errs = append(errs, "QUICK_CHECK_MINUTES cannot exceed BASE_CHECK_MINUTES")
	}
	cfg.TimeToExitThreshold, err = getEnvAsFloatRequired("TIME_TO_EXIT_THRESHOLD_HOURS", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TIME_TO_EXIT_THRESHOLD_HOURS: %v", err))
	} else if cfg.TimeToExitThreshold <= 0 {
		errs = append(errs, "TIME_TO_EXIT_THRESHOLD_HOURS must be positive")
	}
	cfg.MonitorFallback = getEnvAsMinutes("MONITOR_FALLBACK_MINUTES", 5, &errs)
	cfg.SnapshotWindowDays = getEnvAsInt("SNAPSHOT_WINDOW_DAYS", 30)
	if cfg.SnapshotWindowDays <= 0 {
		errs = append(errs, "SNAPSHOT_WINDOW_DAYS must be positive")
	}

	// Quote cache
	cfg.CacheTTL = getEnvAsSeconds("CACHE_TTL_SECONDS", 60, &errs)
	cfg.PriceTTL = getEnvAsSeconds("PRICE_TTL_SECONDS", 10, &errs)
	cfg.StreamFreshness = getEnvAsSeconds("STREAM_FRESHNESS_SECONDS", 10, &errs)
	cfg.StreamEnabled = getEnvAsBool("STREAM_ENABLED", true)

	// Market safety gate
	cfg.MarketSafetyEnabled = getEnvAsBool("MARKET_SAFETY_ENABLED", true)
	cfg.SafetySymbol = getEnv("SAFETY_SYMBOL", "BTCUSDT")
	cfg.MaxDailyChangePercent, err = getEnvAsFloatRequired("MAX_DAILY_CHANGE_PERCENT", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_CHANGE_PERCENT: %v", err))
	} else if cfg.MarketSafetyEnabled && cfg.MaxDailyChangePercent <= 0 {
		errs = append(errs, "MAX_DAILY_CHANGE_PERCENT must be positive")
	}
	cfg.MaxVolatility, err = getEnvAsFloatRequired("MAX_VOLATILITY", 0.15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_VOLATILITY: %v", err))
	} else if cfg.MarketSafetyEnabled && cfg.MaxVolatility <= 0 {
		errs = append(errs, "MAX_VOLATILITY must be positive")
	}

	// Retry / remote calls
	cfg.MaxRetryAttempts = getEnvAsInt("MAX_RETRY_ATTEMPTS", 3)
	if cfg.MaxRetryAttempts <= 0 {
		errs = append(errs, "MAX_RETRY_ATTEMPTS must be positive")
	}
	cfg.RetryBaseDelay = getEnvAsSeconds("RETRY_BASE_SECONDS", 1, &errs)
	cfg.RequestTimeout = getEnvAsSeconds("REQUEST_TIMEOUT_SECONDS", 15, &errs)

	orderPauseMs := getEnvAsInt("ORDER_PAUSE_MS", 300)
	if orderPauseMs < 0 {
		errs = append(errs, "ORDER_PAUSE_MS cannot be negative")
	}
	cfg.OrderPause = time.Duration(orderPauseMs) * time.Millisecond

	// Scheduling
	cfg.HealthCheckInterval = getEnvAsMinutes("HEALTHCHECK_MINUTES", 15, &errs)

	// Stream reconnect
	cfg.ReconnectDelay = getEnvAsSeconds("RECONNECT_DELAY_SECONDS", 5, &errs)
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/volumebot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// Notifications
	cfg.NotificationsEnabled = getEnvAsBool("NOTIFICATIONS_ENABLED", false)
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "")
	if chatIDStr != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
		}
	}
	cfg.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", "")
	if cfg.NotificationsEnabled &&
		(cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0) && cfg.DiscordWebhookURL == "" {
		errs = append(errs, "NOTIFICATIONS_ENABLED requires TELEGRAM_BOT_TOKEN+TELEGRAM_CHAT_ID or DISCORD_WEBHOOK_URL")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsIntSlice parses a comma-separated list of integers, e.g. "8,10,12".
func getEnvAsIntSlice(key string, defaultValue []int) ([]int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	parts := strings.Split(valueStr, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer value '%s' in key %s: %w", p, key, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func getEnvAsSeconds(key string, defaultValue int, errs *[]string) time.Duration {
	v := getEnvAsInt(key, defaultValue)
	if v <= 0 {
		*errs = append(*errs, key+" must be positive")
		v = defaultValue
	}
	return time.Duration(v) * time.Second
}

func getEnvAsMinutes(key string, defaultValue int, errs *[]string) time.Duration {
	v := getEnvAsInt(key, defaultValue)
	if v <= 0 {
		*errs = append(*errs, key+" must be positive")
		v = defaultValue
	}
	return time.Duration(v) * time.Minute
}
