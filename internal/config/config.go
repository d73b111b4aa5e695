// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (.env file via godotenv)
// with defaults matching spec §6.6. Unlike the teacher, there is no
// settings-database override layer here: every tunable in this core is an
// engine parameter, not an operator secret, so environment variables are the
// single source of truth.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables, falling back to defaults
//
// Data Directory Priority (highest to lowest):
// 1. Load's dataDirOverride argument (if provided and non-empty)
// 2. IMPACTENGINE_DATA_DIR environment variable
// 3. ./data (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration (spec §6.6).
type Config struct {
	DataDir  string // base directory for the SQLite store and backups
	LogLevel string // debug, info, warn, error
	DevMode  bool

	// Workflow engine (C8) / Confidence Validator (C7)
	MaxLoops                int
	ConfidenceThreshold     float64
	SeverityThresholdHigh   float64
	SeverityThresholdMedium float64

	// LLM Governor (C2)
	RateLimitPerMinute int
	RetryMax           int
	RetryBaseSeconds   float64
	RetryMultiplier    float64
	GovernorAPIKeys    []string // ordered key rotation list
	GovernorModels     []string // ordered model rotation list

	// Relationship Extractor (C4)
	ProbeTimeoutSeconds    int
	DiscoveryWorkerCeiling int

	// Scheduler (C9)
	HeartbeatSeconds           int
	WorkflowJobIntervalSeconds int
	RefreshJobIntervalSeconds  int
	BackupJobIntervalSeconds   int

	// Reliability (backup archival)
	Backup BackupConfig
}

// BackupConfig configures the S3-compatible archival job.
type BackupConfig struct {
	Enabled  bool
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // optional S3-compatible endpoint override
	RetainN  int
}

// Load reads configuration from environment variables.
//
// dataDirOverride - optional caller-supplied data directory (takes highest
// priority).
// Returns *Config - loaded configuration.
// Returns error - error if configuration loading or validation fails.
func Load(dataDirOverride ...string) (*Config, error) {
	// Load .env file if it exists; godotenv returns an error if absent, fine.
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("IMPACTENGINE_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		MaxLoops:                getEnvAsInt("MAX_LOOPS", 2),
		ConfidenceThreshold:     getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.70),
		SeverityThresholdHigh:   getEnvAsFloat("SEVERITY_THRESHOLD_HIGH", 5.0),
		SeverityThresholdMedium: getEnvAsFloat("SEVERITY_THRESHOLD_MEDIUM", 2.0),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		RetryMax:           getEnvAsInt("RETRY_MAX", 3),
		RetryBaseSeconds:   getEnvAsFloat("RETRY_BASE_SECONDS", 2.0),
		RetryMultiplier:    getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		GovernorAPIKeys:    splitNonEmpty(getEnv("GOVERNOR_API_KEYS", "")),
		GovernorModels:     splitNonEmptyOrDefault(getEnv("GOVERNOR_MODELS", ""), []string{"primary-model", "fallback-model"}),

		ProbeTimeoutSeconds:    getEnvAsInt("PROBE_TIMEOUT_SECONDS", 10),
		DiscoveryWorkerCeiling: getEnvAsInt("DISCOVERY_WORKER_CEILING", 8),

		HeartbeatSeconds:           getEnvAsInt("HEARTBEAT_SECONDS", 10),
		WorkflowJobIntervalSeconds: getEnvAsInt("WORKFLOW_JOB_INTERVAL_SECONDS", 300),
		RefreshJobIntervalSeconds:  getEnvAsInt("REFRESH_JOB_INTERVAL_SECONDS", 3600),
		BackupJobIntervalSeconds:   getEnvAsInt("BACKUP_JOB_INTERVAL_SECONDS", 86400),

		Backup: BackupConfig{
			Enabled:  getEnvAsBool("BACKUP_ENABLED", false),
			Bucket:   getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:   getEnv("BACKUP_S3_PREFIX", "impactengine"),
			Region:   getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint: getEnv("BACKUP_S3_ENDPOINT", ""),
			RetainN:  getEnvAsInt("BACKUP_RETAIN_N", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants the workflow engine (C8) and Governor (C2) rely
// on at construction time rather than at first use.
func (c *Config) Validate() error {
	if c.MaxLoops < 0 {
		return fmt.Errorf("max_loops must be >= 0, got %d", c.MaxLoops)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be > 0, got %d", c.RateLimitPerMinute)
	}
	return nil
}

// RetryDelay returns the backoff delay for retry attempt i (0-indexed),
// per spec §4.2: base * multiplier^i.
func (c *Config) RetryDelay(attempt int) time.Duration {
	delay := c.RetryBaseSeconds
	for i := 0; i < attempt; i++ {
		delay *= c.RetryMultiplier
	}
	return time.Duration(delay * float64(time.Second))
}

// ==========================================
// Helper Functions
// ==========================================

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float64 with a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// splitNonEmpty splits a comma-separated env value, dropping empty segments.
func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func splitNonEmptyOrDefault(value string, fallback []string) []string {
	if parsed := splitNonEmpty(value); parsed != nil {
		return parsed
	}
	return fallback
}
