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
	"github.com/robfig/cron/v3"
)

// cronParser matches the scheduler's seconds-enabled schedule format.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds application configuration
type Config struct {
	DataDir              string // Base directory for the calculations database (always absolute)
	Port                 int
	LogLevel             string
	DevMode              bool
	CacheTTL             time.Duration
	CacheCleanupSchedule string
	ProfilePath          string // Optional YAML estimator profile
	Profile              *EstimatorProfile
	StreamOrigins        []string // Extra origin patterns allowed on the websocket stream
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("EIGENRISK_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("EIGENRISK_PORT", 8010),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		CacheTTL:             getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		CacheCleanupSchedule: getEnv("CACHE_CLEANUP_SCHEDULE", "0 0 * * * *"), // hourly
		ProfilePath:          getEnv("ESTIMATOR_PROFILE", ""),
		StreamOrigins:        getEnvAsList("STREAM_ORIGINS"),
	}

	if cfg.ProfilePath != "" {
		cfg.Profile, err = LoadProfile(cfg.ProfilePath)
	} else {
		cfg.Profile, err = DefaultProfile()
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and formats of the loaded values
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.CacheTTL)
	}
	if _, err := cronParser.Parse(c.CacheCleanupSchedule); err != nil {
		return fmt.Errorf("invalid cache cleanup schedule %q: %w", c.CacheCleanupSchedule, err)
	}
	if c.Profile == nil {
		return fmt.Errorf("estimator profile is missing")
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

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
