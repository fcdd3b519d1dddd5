// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported price data providers
const (
	ProviderYahoo      = "yahoo"
	ProviderTwelveData = "twelvedata"
	ProviderFMP        = "fmp"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Directory holding portfolio.db and client_data.db (always absolute)
	Host     string
	LogLevel string
	Port     int
	DevMode  bool

	PriceDataProvider string
	TwelveDataAPIKey  string
	FMPAPIKey         string
	OpenFIGIAPIKey    string // Optional; raises the ISIN lookup rate limit

	InitialFetchPeriod string
	IndexFetchPeriod   string
	UpdateFetchPeriod  string
	YahooMinInterval   time.Duration

	MarketDataSchedule string // Empty disables the scheduled update
	IgnoredISINs       []string

	Backup BackupConfig
}

// BackupConfig holds the S3-compatible backup target
type BackupConfig struct {
	Schedule  string // Empty disables scheduled backups
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether backups can run.
func (b BackupConfig) Enabled() bool {
	return b.Schedule != "" && b.Bucket != "" && b.AccessKey != "" && b.SecretKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("PORTFOLIO_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Host:               getEnv("HOST", "0.0.0.0"),
		Port:               getEnvAsInt("PORT", 8000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		PriceDataProvider:  strings.ToLower(getEnv("PRICE_DATA_PROVIDER", ProviderYahoo)),
		TwelveDataAPIKey:   getEnv("TWELVEDATA_API_KEY", ""),
		FMPAPIKey:          getEnv("FMP_API_KEY", ""),
		OpenFIGIAPIKey:     getEnv("OPENFIGI_API_KEY", ""),
		InitialFetchPeriod: getEnv("INITIAL_FETCH_PERIOD", "max"),
		IndexFetchPeriod:   getEnv("INDEX_FETCH_PERIOD", "5y"),
		UpdateFetchPeriod:  getEnv("UPDATE_FETCH_PERIOD", "7d"),
		YahooMinInterval:   time.Duration(getEnvAsInt("YAHOO_MIN_INTERVAL_MS", 500)) * time.Millisecond,
		MarketDataSchedule: os.Getenv("MARKET_DATA_SCHEDULE"),
		IgnoredISINs:       getEnvAsList("IGNORED_ISINS", []string{"US82669G1040"}),
		Backup: BackupConfig{
			Schedule:  getEnv("BACKUP_SCHEDULE", ""),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		},
	}

	// An unset schedule falls back to the default; an explicitly empty one disables the job
	if _, set := os.LookupEnv("MARKET_DATA_SCHEDULE"); !set {
		cfg.MarketDataSchedule = "0 30 22 * * MON-FRI"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.PriceDataProvider {
	case ProviderYahoo:
	case ProviderTwelveData:
		if c.TwelveDataAPIKey == "" {
			return fmt.Errorf("TWELVEDATA_API_KEY is required when PRICE_DATA_PROVIDER=%s", ProviderTwelveData)
		}
	case ProviderFMP:
		if c.FMPAPIKey == "" {
			return fmt.Errorf("FMP_API_KEY is required when PRICE_DATA_PROVIDER=%s", ProviderFMP)
		}
	default:
		return fmt.Errorf("unknown price data provider: %q", c.PriceDataProvider)
	}

	if c.YahooMinInterval < 0 {
		return fmt.Errorf("YAHOO_MIN_INTERVAL_MS must not be negative")
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsIgnoredISIN reports whether imports should skip the given ISIN.
func (c *Config) IsIgnoredISIN(isin string) bool {
	for _, ignored := range c.IgnoredISINs {
		if strings.EqualFold(ignored, isin) {
			return true
		}
	}
	return false
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
