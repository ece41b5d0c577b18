package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfigWithDefaults(t *testing.T) {
	setTestEnv(t, map[string]string{
		"SOURCE_PROJECT":    "test-project",
		"SOURCE_API_KEY":    "test_key",
		"SOURCE_API_TOKEN":  "test_token",
		"CALLBACK_URL":      "https://example.test/webhook",
		"EXTRACTOR_API_KEY": "test_extractor_key",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("expected default host '0.0.0.0', got %s", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.SourceDataset != "trello_orders" {
		t.Errorf("expected default dataset 'trello_orders', got %s", cfg.SourceDataset)
	}
	if cfg.ExtractorTimeout != 300*time.Second {
		t.Errorf("expected default extractor timeout 300s, got %s", cfg.ExtractorTimeout)
	}
	if cfg.SourceFetchTimeout != 30*time.Second {
		t.Errorf("expected default fetch timeout 30s, got %s", cfg.SourceFetchTimeout)
	}
	if cfg.MaxInputLength != 10000 {
		t.Errorf("expected default max input length 10000, got %d", cfg.MaxInputLength)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("expected default worker concurrency 8, got %d", cfg.WorkerConcurrency)
	}
	if cfg.RetryTick != 30*time.Second {
		t.Errorf("expected default retry tick 30s, got %s", cfg.RetryTick)
	}
	if cfg.RetryBase != 60*time.Second {
		t.Errorf("expected default retry base 60s, got %s", cfg.RetryBase)
	}
	if cfg.RetryMaxAttempts != 10 {
		t.Errorf("expected default retry max attempts 10, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.SourceProject != "test-project" {
		t.Errorf("expected SOURCE_PROJECT 'test-project', got %s", cfg.SourceProject)
	}
	if cfg.SourceAPIKey != "test_key" {
		t.Errorf("expected SOURCE_API_KEY 'test_key', got %s", cfg.SourceAPIKey)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	setTestEnv(t, map[string]string{
		"HOST":                "127.0.0.1",
		"PORT":                "9100",
		"RETRY_MAX_ATTEMPTS":  "3",
		"WORKER_CONCURRENCY":  "16",
		"SOURCE_PROJECT":      "custom-project",
		"SOURCE_API_KEY":      "custom_key",
		"SOURCE_API_TOKEN":    "custom_token",
		"CALLBACK_URL":        "https://custom.test/webhook",
		"EXTRACTOR_API_KEY":   "custom_extractor_key",
		"LOG_LEVEL":           "debug",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected host '127.0.0.1', got %s", cfg.Host)
	}
	if cfg.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Port)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("expected retry max attempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.WorkerConcurrency != 16 {
		t.Errorf("expected worker concurrency 16, got %d", cfg.WorkerConcurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
}

func TestValidationMissingRequiredVars(t *testing.T) {
	tests := []struct {
		name    string
		missing string
		set     map[string]string
	}{
		{
			name:    "missing source project",
			missing: "SOURCE_PROJECT",
			set: map[string]string{
				"SOURCE_API_KEY":    "k",
				"SOURCE_API_TOKEN":  "t",
				"CALLBACK_URL":      "https://example.test",
				"EXTRACTOR_API_KEY": "e",
			},
		},
		{
			name:    "missing source api key",
			missing: "SOURCE_API_KEY",
			set: map[string]string{
				"SOURCE_PROJECT":    "p",
				"SOURCE_API_TOKEN":  "t",
				"CALLBACK_URL":      "https://example.test",
				"EXTRACTOR_API_KEY": "e",
			},
		},
		{
			name:    "missing extractor api key",
			missing: "EXTRACTOR_API_KEY",
			set: map[string]string{
				"SOURCE_PROJECT":   "p",
				"SOURCE_API_KEY":   "k",
				"SOURCE_API_TOKEN": "t",
				"CALLBACK_URL":     "https://example.test",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestEnv(t, tt.set)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected validation error for missing %s", tt.missing)
			}
		})
	}
}

func setTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	clearTestEnv(t)
	for key, value := range vars {
		os.Setenv(key, value)
		t.Cleanup(func() {
			os.Unsetenv(key)
		})
	}
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"HOST", "PORT", "SOURCE_PROJECT", "SOURCE_DATASET",
		"SOURCE_API_KEY", "SOURCE_API_TOKEN", "CALLBACK_URL",
		"EXTRACTOR_MODEL_ID", "EXTRACTOR_API_KEY", "EXTRACTOR_TIMEOUT_S",
		"SOURCE_FETCH_TIMEOUT_S", "MAX_INPUT_LENGTH", "WORKER_CONCURRENCY",
		"RETRY_TICK_S", "RETRY_BASE_S", "RETRY_MAX_ATTEMPTS",
		"OVERFLOW_LOG_PATH", "LOG_LEVEL", "METRICS_ENABLED",
		"METRICS_HOST", "METRICS_PORT",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}
