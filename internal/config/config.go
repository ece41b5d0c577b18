// Package config loads cardsync's configuration from environment
// variables, failing fast if a required variable is missing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string
	Port int

	// BigQuery-backed analytical store
	SourceProject string
	SourceDataset string

	// Source-platform (Trello) credentials
	SourceAPIKey   string
	SourceAPIToken string
	CallbackURL    string

	// Extractor (LLM) configuration
	ExtractorModelID string
	ExtractorAPIKey  string
	ExtractorTimeout time.Duration

	SourceFetchTimeout time.Duration
	MaxInputLength     int

	// Dispatcher / retry worker tuning
	WorkerConcurrency int
	RetryTick         time.Duration
	RetryBase         time.Duration
	RetryMaxAttempts  int

	// Intake overflow log
	OverflowLogPath string

	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

// Load reads configuration from environment variables. It fails fast if
// required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{
		Host:             getEnv("HOST", "0.0.0.0"),
		Port:             getEnvInt("PORT", 8080),
		SourceDataset:    getEnv("SOURCE_DATASET", "trello_orders"),
		ExtractorModelID: getEnv("EXTRACTOR_MODEL_ID", "claude-sonnet-4-20250514"),

		ExtractorTimeout:   getEnvDuration("EXTRACTOR_TIMEOUT_S", 300*time.Second),
		SourceFetchTimeout: getEnvDuration("SOURCE_FETCH_TIMEOUT_S", 30*time.Second),
		MaxInputLength:     getEnvInt("MAX_INPUT_LENGTH", 10000),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 8),
		RetryTick:         getEnvDuration("RETRY_TICK_S", 30*time.Second),
		RetryBase:         getEnvDuration("RETRY_BASE_S", 60*time.Second),
		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 10),

		OverflowLogPath: getEnv("OVERFLOW_LOG_PATH", "./intake-overflow.db"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsHost:    getEnv("METRICS_HOST", "0.0.0.0"),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),
	}

	var missingVars []string

	cfg.SourceProject = os.Getenv("SOURCE_PROJECT")
	if cfg.SourceProject == "" {
		missingVars = append(missingVars, "SOURCE_PROJECT")
	}

	cfg.SourceAPIKey = os.Getenv("SOURCE_API_KEY")
	if cfg.SourceAPIKey == "" {
		missingVars = append(missingVars, "SOURCE_API_KEY")
	}

	cfg.SourceAPIToken = os.Getenv("SOURCE_API_TOKEN")
	if cfg.SourceAPIToken == "" {
		missingVars = append(missingVars, "SOURCE_API_TOKEN")
	}

	cfg.CallbackURL = os.Getenv("CALLBACK_URL")
	if cfg.CallbackURL == "" {
		missingVars = append(missingVars, "CALLBACK_URL")
	}

	cfg.ExtractorAPIKey = os.Getenv("EXTRACTOR_API_KEY")
	if cfg.ExtractorAPIKey == "" {
		missingVars = append(missingVars, "EXTRACTOR_API_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
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

func getEnvBool(key string, defaultValue bool) bool {
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
