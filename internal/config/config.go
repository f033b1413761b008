// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/scheduler"
	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for databases and exports (always absolute)
	LogLevel     string
	Port         int
	DevMode      bool
	UniverseFile string
	Schedule     string // Cron spec (seconds field optional) for re-optimizing the universe; empty disables it
	CacheTTL     time.Duration
	JobTimeout   time.Duration
	Optimizer    OptimizerConfig
	Storage      StorageConfig
}

// OptimizerConfig holds the engine defaults
type OptimizerConfig struct {
	NumTrials      int
	Workers        int
	Seed           uint64 // 0 = time based
	StartMode      string
	RiskFreeRate   float64
	Lambda         float64
	Method         string
	FallbackMethod string
	MaxIterations  int // 0 scales with the number of assets
	TrialTimeout   time.Duration
}

// StorageConfig holds the S3-compatible bucket exports are uploaded to
type StorageConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether uploads are configured.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	workers, err := resolveWorkers(getEnv("OPT_WORKERS", "1"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:      dataDir,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("PORT", 8080),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		UniverseFile: getEnv("UNIVERSE_FILE", ""),
		Schedule:     getEnv("SCHEDULE", ""),
		CacheTTL:     getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		JobTimeout:   getEnvAsDuration("JOB_TIMEOUT", 30*time.Minute),
		Optimizer: OptimizerConfig{
			NumTrials:      getEnvAsInt("OPT_NUM_TRIALS", 100),
			Workers:        workers,
			Seed:           getEnvAsUint64("OPT_SEED", 0),
			StartMode:      getEnv("OPT_START_MODE", "random"),
			RiskFreeRate:   getEnvAsFloat("OPT_RISK_FREE_RATE", 0.02),
			Lambda:         getEnvAsFloat("OPT_LAMBDA", 1.5),
			Method:         getEnv("OPT_METHOD", "bfgs"),
			FallbackMethod: getEnv("OPT_FALLBACK_METHOD", "nelder-mead"),
			MaxIterations:  getEnvAsInt("OPT_MAX_ITERATIONS", 0),
			TrialTimeout:   getEnvAsDuration("OPT_TRIAL_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "auto"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("S3_PREFIX", "allocator/"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.JobTimeout)
	}
	if c.Optimizer.NumTrials <= 0 {
		return fmt.Errorf("OPT_NUM_TRIALS must be positive, got %d", c.Optimizer.NumTrials)
	}
	if c.Optimizer.Workers <= 0 {
		return fmt.Errorf("OPT_WORKERS must be positive, got %d", c.Optimizer.Workers)
	}
	if c.Optimizer.MaxIterations < 0 {
		return fmt.Errorf("OPT_MAX_ITERATIONS must not be negative, got %d", c.Optimizer.MaxIterations)
	}
	if c.Optimizer.TrialTimeout < 0 {
		return fmt.Errorf("OPT_TRIAL_TIMEOUT must not be negative")
	}
	if c.Optimizer.Lambda < 0 {
		return fmt.Errorf("OPT_LAMBDA must not be negative, got %g", c.Optimizer.Lambda)
	}
	switch c.Optimizer.StartMode {
	case "random", "uniform":
	default:
		return fmt.Errorf("OPT_START_MODE must be random or uniform, got %q", c.Optimizer.StartMode)
	}
	if c.Schedule != "" {
		if c.UniverseFile == "" {
			return fmt.Errorf("SCHEDULE requires UNIVERSE_FILE")
		}
		if _, err := scheduler.Parser.Parse(c.Schedule); err != nil {
			return fmt.Errorf("invalid SCHEDULE %q: %w", c.Schedule, err)
		}
	}
	if c.Storage.Enabled() && (c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "") {
		return fmt.Errorf("S3_BUCKET requires S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY")
	}
	return nil
}

// resolveWorkers parses OPT_WORKERS; "auto" means one worker per logical CPU.
func resolveWorkers(value string) (int, error) {
	if strings.EqualFold(value, "auto") {
		n, err := cpu.Counts(true)
		if err != nil || n < 1 {
			return 1, nil
		}
		return n, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("OPT_WORKERS must be an integer or \"auto\", got %q", value)
	}
	return n, nil
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

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
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
