package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	SignalConfig       SignalConfig       `json:"signal"`
	TrackerConfig      TrackerConfig      `json:"tracker"`
	LevelsConfig       LevelsConfig       `json:"levels"`
	UniverseConfig     UniverseConfig     `json:"universe"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	NotificationConfig NotificationConfig `json:"notification"`
	VaultConfig        VaultConfig        `json:"vault"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// BinanceConfig holds Binance Futures connectivity settings
type BinanceConfig struct {
	RESTBaseURL     string `json:"rest_base_url"`
	StreamBaseURL   string `json:"stream_base_url"`
	RateLimitWeight int    `json:"rate_limit_weight"` // weight budget per minute
}

// SignalConfig holds the entry pipeline thresholds
type SignalConfig struct {
	ImbalanceEntryThreshold float64       `json:"imbalance_entry_threshold"`
	MinLargeTrades          int           `json:"min_large_trades"`
	VolumeConfirmationMult  float64       `json:"volume_confirmation_multiplier"`
	LargeTradePercentile    float64       `json:"large_trade_percentile"`
	LargeTradeFloorUSD      float64       `json:"large_trade_floor_usd"`
	PersistenceEntrySamples int           `json:"persistence_entry_samples"`
	PriorityHighImbalance   float64       `json:"priority_high"`
	PriorityMediumImbalance float64       `json:"priority_medium"`
	MaxStopPct              float64       `json:"max_stop_pct"`
	MinTPPct                float64       `json:"min_tp_pct"`
	MinRiskReward           float64       `json:"min_rr"`
	ATRPeriod               int           `json:"atr_period"`
	ATRStopMultiplier       float64       `json:"atr_stop_multiplier"`
	GenerationInterval      time.Duration `json:"generation_interval"`
}

// TrackerConfig holds the fast exit loop parameters
type TrackerConfig struct {
	TickInterval               time.Duration `json:"tick_interval"`
	CacheSyncInterval          time.Duration `json:"cache_sync_interval"`
	ImbalanceReversal          float64       `json:"imbalance_reversal_threshold"`
	PersistenceReversalSamples int           `json:"persistence_reversal_samples"`
	MinHoldSeconds             int           `json:"min_hold_seconds"`
}

// LevelsConfig holds the level clustering parameters
type LevelsConfig struct {
	BinSizePct             float64 `json:"bin_size_pct"`
	WorkingRangeMultiplier float64 `json:"working_range_multiplier"`
	OrderbookDepth         int     `json:"orderbook_depth_analysis"`
	ProfileHours           int     `json:"profile_hours"`
}

// UniverseConfig holds instrument selection criteria
type UniverseConfig struct {
	Min24hVolume    float64       `json:"min_24h_volume"`
	MinOpenInterest float64       `json:"min_open_interest"`
	MaxSpread       float64       `json:"max_spread"`
	MaxSymbols      int           `json:"max_symbols"`
	RescanInterval  time.Duration `json:"rescan_interval"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for the snapshot cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// VaultConfig holds HashiCorp Vault configuration for secret resolution
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds the HTTP API server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with. Startup is the
// only place configuration errors are tolerated; they are fatal there.
func (c *Config) Validate() error {
	if c.SignalConfig.ImbalanceEntryThreshold <= 0 || c.SignalConfig.ImbalanceEntryThreshold >= 1 {
		return fmt.Errorf("imbalance_entry_threshold must be in (0, 1), got %v", c.SignalConfig.ImbalanceEntryThreshold)
	}
	if c.SignalConfig.PersistenceEntrySamples <= 0 {
		return fmt.Errorf("persistence_entry_samples must be positive, got %d", c.SignalConfig.PersistenceEntrySamples)
	}
	if c.TrackerConfig.TickInterval <= 0 {
		return fmt.Errorf("tracker tick_interval must be positive, got %v", c.TrackerConfig.TickInterval)
	}
	if c.TrackerConfig.PersistenceReversalSamples <= 0 {
		return fmt.Errorf("persistence_reversal_samples must be positive, got %d", c.TrackerConfig.PersistenceReversalSamples)
	}
	if c.SignalConfig.LargeTradeFloorUSD <= 0 {
		return fmt.Errorf("large_trade_floor_usd must be positive, got %v", c.SignalConfig.LargeTradeFloorUSD)
	}
	if c.LevelsConfig.BinSizePct <= 0 {
		return fmt.Errorf("bin_size_pct must be positive, got %v", c.LevelsConfig.BinSizePct)
	}
	if c.DatabaseConfig.Host == "" {
		return fmt.Errorf("database host is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Binance config
	cfg.BinanceConfig.RESTBaseURL = getEnvOrDefault("BINANCE_FUTURES_BASE_URL", cfg.BinanceConfig.RESTBaseURL)
	if cfg.BinanceConfig.RESTBaseURL == "" {
		cfg.BinanceConfig.RESTBaseURL = "https://fapi.binance.com"
	}
	cfg.BinanceConfig.StreamBaseURL = getEnvOrDefault("BINANCE_STREAM_BASE_URL", cfg.BinanceConfig.StreamBaseURL)
	if cfg.BinanceConfig.StreamBaseURL == "" {
		cfg.BinanceConfig.StreamBaseURL = "wss://fstream.binance.com"
	}
	cfg.BinanceConfig.RateLimitWeight = getEnvIntOrDefault("BINANCE_RATE_LIMIT_WEIGHT", defaultInt(cfg.BinanceConfig.RateLimitWeight, 2400))

	// Signal config
	cfg.SignalConfig.ImbalanceEntryThreshold = getEnvFloatOrDefault("SIGNAL_IMBALANCE_THRESHOLD", defaultFloat(cfg.SignalConfig.ImbalanceEntryThreshold, 0.15))
	cfg.SignalConfig.MinLargeTrades = getEnvIntOrDefault("SIGNAL_MIN_LARGE_TRADES", defaultInt(cfg.SignalConfig.MinLargeTrades, 2))
	cfg.SignalConfig.VolumeConfirmationMult = getEnvFloatOrDefault("SIGNAL_VOLUME_CONFIRMATION", defaultFloat(cfg.SignalConfig.VolumeConfirmationMult, 1.5))
	cfg.SignalConfig.LargeTradePercentile = getEnvFloatOrDefault("SIGNAL_LARGE_TRADE_PERCENTILE", defaultFloat(cfg.SignalConfig.LargeTradePercentile, 99))
	cfg.SignalConfig.LargeTradeFloorUSD = getEnvFloatOrDefault("SIGNAL_LARGE_TRADE_FLOOR_USD", defaultFloat(cfg.SignalConfig.LargeTradeFloorUSD, 10000))
	cfg.SignalConfig.PersistenceEntrySamples = getEnvIntOrDefault("SIGNAL_PERSISTENCE_SAMPLES", defaultInt(cfg.SignalConfig.PersistenceEntrySamples, 50))
	cfg.SignalConfig.PriorityHighImbalance = getEnvFloatOrDefault("SIGNAL_PRIORITY_HIGH", defaultFloat(cfg.SignalConfig.PriorityHighImbalance, 0.25))
	cfg.SignalConfig.PriorityMediumImbalance = getEnvFloatOrDefault("SIGNAL_PRIORITY_MEDIUM", defaultFloat(cfg.SignalConfig.PriorityMediumImbalance, 0.20))
	cfg.SignalConfig.MaxStopPct = getEnvFloatOrDefault("SIGNAL_MAX_STOP_PCT", defaultFloat(cfg.SignalConfig.MaxStopPct, 1.5))
	cfg.SignalConfig.MinTPPct = getEnvFloatOrDefault("SIGNAL_MIN_TP_PCT", defaultFloat(cfg.SignalConfig.MinTPPct, 0.50))
	cfg.SignalConfig.MinRiskReward = getEnvFloatOrDefault("SIGNAL_MIN_RR", defaultFloat(cfg.SignalConfig.MinRiskReward, 0.8))
	cfg.SignalConfig.ATRPeriod = getEnvIntOrDefault("SIGNAL_ATR_PERIOD", defaultInt(cfg.SignalConfig.ATRPeriod, 14))
	cfg.SignalConfig.ATRStopMultiplier = getEnvFloatOrDefault("SIGNAL_ATR_STOP_MULTIPLIER", defaultFloat(cfg.SignalConfig.ATRStopMultiplier, 1.5))
	cfg.SignalConfig.GenerationInterval = getEnvDurationOrDefault("SIGNAL_GENERATION_INTERVAL", defaultDuration(cfg.SignalConfig.GenerationInterval, 60*time.Second))

	// Tracker config
	cfg.TrackerConfig.TickInterval = getEnvDurationOrDefault("TRACKER_TICK_INTERVAL", defaultDuration(cfg.TrackerConfig.TickInterval, 100*time.Millisecond))
	cfg.TrackerConfig.CacheSyncInterval = getEnvDurationOrDefault("TRACKER_CACHE_SYNC_INTERVAL", defaultDuration(cfg.TrackerConfig.CacheSyncInterval, 5*time.Second))
	cfg.TrackerConfig.ImbalanceReversal = getEnvFloatOrDefault("TRACKER_IMBALANCE_REVERSAL", defaultFloat(cfg.TrackerConfig.ImbalanceReversal, 0.4))
	cfg.TrackerConfig.PersistenceReversalSamples = getEnvIntOrDefault("TRACKER_REVERSAL_SAMPLES", defaultInt(cfg.TrackerConfig.PersistenceReversalSamples, 75))
	cfg.TrackerConfig.MinHoldSeconds = getEnvIntOrDefault("TRACKER_MIN_HOLD_SECONDS", defaultInt(cfg.TrackerConfig.MinHoldSeconds, 30))

	// Levels config
	cfg.LevelsConfig.BinSizePct = getEnvFloatOrDefault("LEVELS_BIN_SIZE_PCT", defaultFloat(cfg.LevelsConfig.BinSizePct, 0.2))
	cfg.LevelsConfig.WorkingRangeMultiplier = getEnvFloatOrDefault("LEVELS_WORKING_RANGE_MULT", defaultFloat(cfg.LevelsConfig.WorkingRangeMultiplier, 3.0))
	cfg.LevelsConfig.OrderbookDepth = getEnvIntOrDefault("LEVELS_ORDERBOOK_DEPTH", defaultInt(cfg.LevelsConfig.OrderbookDepth, 500))
	cfg.LevelsConfig.ProfileHours = getEnvIntOrDefault("LEVELS_PROFILE_HOURS", defaultInt(cfg.LevelsConfig.ProfileHours, 6))

	// Universe config
	cfg.UniverseConfig.Min24hVolume = getEnvFloatOrDefault("UNIVERSE_MIN_24H_VOLUME", defaultFloat(cfg.UniverseConfig.Min24hVolume, 50_000_000))
	cfg.UniverseConfig.MinOpenInterest = getEnvFloatOrDefault("UNIVERSE_MIN_OPEN_INTEREST", defaultFloat(cfg.UniverseConfig.MinOpenInterest, 10_000_000))
	cfg.UniverseConfig.MaxSpread = getEnvFloatOrDefault("UNIVERSE_MAX_SPREAD", defaultFloat(cfg.UniverseConfig.MaxSpread, 0.0002))
	cfg.UniverseConfig.MaxSymbols = getEnvIntOrDefault("UNIVERSE_MAX_SYMBOLS", defaultInt(cfg.UniverseConfig.MaxSymbols, 50))
	cfg.UniverseConfig.RescanInterval = getEnvDurationOrDefault("UNIVERSE_RESCAN_INTERVAL", defaultDuration(cfg.UniverseConfig.RescanInterval, time.Hour))

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "signals"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "signal-bot"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
