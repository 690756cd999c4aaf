// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for all databases (always absolute)
	PolicyPath string // YAML risk policy; defaults apply when missing
	LogLevel   string
	Port       int
	DevMode    bool

	CycleSchedule    string // cron spec (with seconds) for the trading cycle
	RolloverSchedule string // cron spec for the daily reset
	BackupSchedule   string // cron spec for database backups

	Universe          []string          // tradable symbols refreshed every cycle
	IndexSymbol       string            // broad market index proxy
	VolatilitySymbol  string            // volatility index symbol
	SectorSymbols     map[string]string // sector ETF symbol -> sector name
	MaxParallelAgents int

	DecisionProviderURL   string
	DecisionProviderToken string
	DecisionTimeout       time.Duration

	Brokers BrokerCredentials

	RedisURL          string
	PostgresMirrorDSN string
	TelegramToken     string
	TelegramChatID    int64
	Backup            BackupConfig
}

// BrokerCredentials holds the keys and endpoints of every supported brokerage.
// A broker with empty credentials is not registered and its agents fall back
// to the execution simulator.
type BrokerCredentials struct {
	AlpacaKeyID   string
	AlpacaSecret  string
	AlpacaBaseURL string
	AlpacaDataURL string

	TradierToken   string
	TradierAccount string
	TradierBaseURL string

	TradeStationToken   string
	TradeStationAccount string
	TradeStationBaseURL string

	SchwabToken       string
	SchwabAccountHash string
	SchwabBaseURL     string

	IBKRBaseURL   string
	IBKRAccountID string

	TastytradeToken   string
	TastytradeAccount string
	TastytradeBaseURL string

	TradernetAPIKey    string
	TradernetAPISecret string
	TradernetBaseURL   string
	TradernetWSURL     string
}

// BackupConfig configures uploads of database copies to S3-compatible storage
type BackupConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for R2/MinIO
	AccessKey string
	SecretKey string
	Prefix    string
	Retain    int
}

// Enabled reports whether backups have enough configuration to run
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

var defaultSectors = map[string]string{
	"XLK":  "technology",
	"XLF":  "financials",
	"XLE":  "energy",
	"XLV":  "healthcare",
	"XLY":  "consumer_discretionary",
	"XLP":  "consumer_staples",
	"XLI":  "industrials",
	"XLU":  "utilities",
	"XLB":  "materials",
	"XLRE": "real_estate",
	"XLC":  "communication",
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ARENA_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:    absDataDir,
		PolicyPath: getEnv("ARENA_POLICY_PATH", filepath.Join(absDataDir, "policy.yaml")),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Port:       getEnvAsInt("ARENA_PORT", 8080),
		DevMode:    getEnvAsBool("DEV_MODE", false),

		// Every 5 minutes during US market hours, weekdays
		CycleSchedule:    getEnv("CYCLE_SCHEDULE", "0 */5 9-16 * * MON-FRI"),
		RolloverSchedule: getEnv("ROLLOVER_SCHEDULE", "0 5 0 * * *"),
		BackupSchedule:   getEnv("BACKUP_SCHEDULE", "0 30 2 * * *"),

		Universe:          getEnvAsList("UNIVERSE", []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "JPM", "XOM", "UNH"}),
		IndexSymbol:       getEnv("INDEX_SYMBOL", "SPY"),
		VolatilitySymbol:  getEnv("VOLATILITY_SYMBOL", "VIX"),
		SectorSymbols:     getEnvAsMap("SECTOR_SYMBOLS", defaultSectors),
		MaxParallelAgents: getEnvAsInt("MAX_PARALLEL_AGENTS", 4),

		DecisionProviderURL:   getEnv("DECISION_PROVIDER_URL", ""),
		DecisionProviderToken: getEnv("DECISION_PROVIDER_TOKEN", ""),
		DecisionTimeout:       getEnvAsDuration("DECISION_TIMEOUT", 60*time.Second),

		Brokers: BrokerCredentials{
			AlpacaKeyID:   getEnv("ALPACA_KEY_ID", ""),
			AlpacaSecret:  getEnv("ALPACA_SECRET_KEY", ""),
			AlpacaBaseURL: getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
			AlpacaDataURL: getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),

			TradierToken:   getEnv("TRADIER_TOKEN", ""),
			TradierAccount: getEnv("TRADIER_ACCOUNT_ID", ""),
			TradierBaseURL: getEnv("TRADIER_BASE_URL", "https://sandbox.tradier.com/v1"),

			TradeStationToken:   getEnv("TRADESTATION_TOKEN", ""),
			TradeStationAccount: getEnv("TRADESTATION_ACCOUNT_ID", ""),
			TradeStationBaseURL: getEnv("TRADESTATION_BASE_URL", "https://sim-api.tradestation.com/v3"),

			SchwabToken:       getEnv("SCHWAB_TOKEN", ""),
			SchwabAccountHash: getEnv("SCHWAB_ACCOUNT_HASH", ""),
			SchwabBaseURL:     getEnv("SCHWAB_BASE_URL", "https://api.schwabapi.com"),

			IBKRBaseURL:   getEnv("IBKR_BASE_URL", ""),
			IBKRAccountID: getEnv("IBKR_ACCOUNT_ID", ""),

			TastytradeToken:   getEnv("TASTYTRADE_TOKEN", ""),
			TastytradeAccount: getEnv("TASTYTRADE_ACCOUNT", ""),
			TastytradeBaseURL: getEnv("TASTYTRADE_BASE_URL", "https://api.cert.tastyworks.com"),

			TradernetAPIKey:    getEnv("TRADERNET_API_KEY", ""),
			TradernetAPISecret: getEnv("TRADERNET_API_SECRET", ""),
			TradernetBaseURL:   getEnv("TRADERNET_BASE_URL", "https://freedom24.com"),
			TradernetWSURL:     getEnv("TRADERNET_WS_URL", "wss://wss.tradernet.com/"),
		},

		RedisURL:          getEnv("REDIS_URL", ""),
		PostgresMirrorDSN: getEnv("POSTGRES_MIRROR_DSN", ""),
		TelegramToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnvAsInt64("TELEGRAM_CHAT_ID", 0),

		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "arena"),
			Retain:    getEnvAsInt("BACKUP_RETAIN", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxParallelAgents < 1 {
		return fmt.Errorf("MAX_PARALLEL_AGENTS must be at least 1, got %d", c.MaxParallelAgents)
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("UNIVERSE must list at least one symbol")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Backup.Enabled() && (c.Backup.AccessKey == "") != (c.Backup.SecretKey == "") {
		return fmt.Errorf("BACKUP_S3_ACCESS_KEY and BACKUP_S3_SECRET_KEY must be set together")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList parses a comma-separated list, upper-casing symbols
func getEnvAsList(key string, defaultValue []string) []string {
	parts := utils.ParseCSV(os.Getenv(key))
	if parts == nil {
		return defaultValue
	}
	for i, p := range parts {
		parts[i] = strings.ToUpper(p)
	}
	return parts
}

// getEnvAsMap parses "SYM:name,SYM:name"
func getEnvAsMap(key string, defaultValue map[string]string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := make(map[string]string)
	for _, part := range utils.ParseCSV(value) {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out[strings.ToUpper(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}
