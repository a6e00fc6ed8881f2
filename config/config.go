package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Freshness windows and retention
// periods are configuration, not constants, so deployments can tune
// them per environment.
type Config struct {
	Port        string
	Environment string

	CacheDir     string
	LogsDir      string
	SymbolDBPath string

	FinLabAPIURL  string
	FinLabToken   string
	ShioajiAPIURL string
	ShioajiAPIKey string

	HistCacheHours       int // default freshness window for historical datasets
	FastCacheHours       int // window for faster-moving historical datasets (amount, world indices)
	RealtimeCacheSeconds int // snapshot window during trading hours
	CacheRetentionDays   int // persisted entries older than this are pruned by the update job
	LogRetentionDays     int // per-run log files older than this are deleted

	SchedulerEnabled bool
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		CacheDir:     getEnv("CACHE_DIR", "cache"),
		LogsDir:      getEnv("LOGS_DIR", "logs"),
		SymbolDBPath: getEnv("SYMBOL_DB_PATH", "data/symbols.db"),

		FinLabAPIURL:  getEnv("FINLAB_API_URL", "https://api.finlabdata.tw/v1"),
		FinLabToken:   getEnv("FINLAB_TOKEN", ""),
		ShioajiAPIURL: getEnv("SHIOAJI_API_URL", "https://api.shioaji-quotes.tw/v1"),
		ShioajiAPIKey: getEnv("SHIOAJI_API_KEY", ""),

		HistCacheHours:       getEnvInt("HIST_CACHE_HOURS", 24),
		FastCacheHours:       getEnvInt("FAST_CACHE_HOURS", 12),
		RealtimeCacheSeconds: getEnvInt("REALTIME_CACHE_SECONDS", 60),
		CacheRetentionDays:   getEnvInt("CACHE_RETENTION_DAYS", 30),
		LogRetentionDays:     getEnvInt("LOG_RETENTION_DAYS", 7),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", false),
	}

	if config.FinLabToken == "" {
		log.Println("Warning: FINLAB_TOKEN is not set, historical fetches will fail")
	}

	AppConfig = config
	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}
