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
	DataDir        string // Base directory for all databases (always absolute)
	Port           int
	LogLevel       string
	DevMode        bool
	AlphaKey       string // Optional Alpha Vantage style API key for the stooq mirror (unused by default providers)
	FetchWorkers   int64  // Global fetch-phase concurrency limit
	FetchBatchSize int
	FetchRateDelay time.Duration // Delay after each provider call
	Archive        *ArchiveConfig
}

// ArchiveConfig holds settings for uploading finalized run records to
// S3-compatible storage. Disabled unless both bucket and endpoint are set.
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string // S3-compatible endpoint URL (e.g. Cloudflare R2)
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// 1. Check PULSE_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure it exists
	dataDir := getEnv("PULSE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("PULSE_PORT", 8010),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		AlphaKey:       getEnv("ALPHA_VANTAGE_KEY", ""),
		FetchWorkers:   int64(getEnvAsInt("FETCH_WORKERS", 4)),
		FetchBatchSize: getEnvAsInt("FETCH_BATCH_SIZE", 25),
		FetchRateDelay: time.Duration(getEnvAsInt("FETCH_RATE_DELAY_MS", 250)) * time.Millisecond,
		Archive:        loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.FetchWorkers < 1 {
		return fmt.Errorf("FETCH_WORKERS must be at least 1, got %d", c.FetchWorkers)
	}
	if c.FetchBatchSize < 1 {
		return fmt.Errorf("FETCH_BATCH_SIZE must be at least 1, got %d", c.FetchBatchSize)
	}
	return nil
}

// loadArchiveConfig loads S3 archive settings. The archive is opt-in:
// it stays disabled unless an endpoint and bucket are both configured.
func loadArchiveConfig() *ArchiveConfig {
	cfg := &ArchiveConfig{
		Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
		Region:    getEnv("ARCHIVE_S3_REGION", "auto"),
		Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
	}
	cfg.Enabled = cfg.Endpoint != "" && cfg.Bucket != ""
	return cfg
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
