// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Chain API (Hiro)
	HiroAPIURL string
	HiroAPIKey string
	HiroWSURL  string

	// Price sources
	CoinGeckoURL    string
	CoinGeckoAPIKey string
	PriceCacheTTL   time.Duration

	// Indexer
	IndexerMaxTxs int

	// Alerts
	AlertRetentionDays int
	AlertDailyLimit    int

	// Email delivery (optional, disabled when host is empty)
	SMTP SMTPConfig

	// Backup (optional, disabled when bucket is empty)
	Backup BackupConfig
}

// SMTPConfig holds alert email delivery configuration
type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// BackupConfig holds S3 ledger backup configuration
type BackupConfig struct {
	Enabled bool
	Bucket  string
	Region  string
	Prefix  string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("STACKWATCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory to absolute path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	priceTTLSeconds, err := strconv.Atoi(getEnv("PRICE_CACHE_TTL_SECONDS", "60"))
	if err != nil || priceTTLSeconds <= 0 {
		priceTTLSeconds = 60
	}

	maxTxs, err := strconv.Atoi(getEnv("INDEXER_MAX_TXS", "500"))
	if err != nil || maxTxs <= 0 {
		maxTxs = 500
	}

	retentionDays, err := strconv.Atoi(getEnv("ALERT_RETENTION_DAYS", "90"))
	if err != nil || retentionDays <= 0 {
		retentionDays = 90
	}

	dailyLimit, err := strconv.Atoi(getEnv("ALERT_DAILY_LIMIT", "100"))
	if err != nil || dailyLimit <= 0 {
		dailyLimit = 100
	}

	smtpHost := getEnv("SMTP_HOST", "")
	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil || smtpPort <= 0 {
		smtpPort = 587
	}

	backupBucket := getEnv("BACKUP_S3_BUCKET", "")

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     port,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnv("DEV_MODE", "false") == "true",

		HiroAPIURL: getEnv("HIRO_API_URL", "https://api.hiro.so"),
		HiroAPIKey: getEnv("HIRO_API_KEY", ""),
		HiroWSURL:  getEnv("HIRO_WS_URL", "wss://api.hiro.so/"),

		CoinGeckoURL:    getEnv("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey: getEnv("COINGECKO_API_KEY", ""),
		PriceCacheTTL:   time.Duration(priceTTLSeconds) * time.Second,

		IndexerMaxTxs: maxTxs,

		AlertRetentionDays: retentionDays,
		AlertDailyLimit:    dailyLimit,

		SMTP: SMTPConfig{
			Enabled:  smtpHost != "",
			Host:     smtpHost,
			Port:     smtpPort,
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("SMTP_FROM", "alerts@stackwatch.local"),
		},

		Backup: BackupConfig{
			Enabled: backupBucket != "",
			Bucket:  backupBucket,
			Region:  getEnv("BACKUP_S3_REGION", "eu-central-1"),
			Prefix:  getEnv("BACKUP_S3_PREFIX", "stackwatch"),
		},
	}

	return cfg, nil
}

// DatabasePath returns the absolute path for a named database file.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// getEnv retrieves an environment variable value, returning a fallback
// if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
