package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/linewatch/internal/secrets"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Redis (optional; empty addr disables stream publishing and the alert
	// dedup fast path, leaving the MySQL unique indexes as the only guard)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Detection window
	WindowLookbackMins int // max trailing window when no checkpoint exists
	WindowOverlapMins  int // re-scanned overlap behind the checkpoint

	// Pipeline
	PollIntervalSec int
	GroupWorkers    int // concurrent (game, sportsbook, market) groups per run

	// Alerts
	DefaultAlertThreshold float64
	DedupTTLMins          int // Redis fast-path guard TTL

	// API
	HTTPPort           int
	MetricsPort        int
	APIMaxPageSize     int
	RunTriggerRPS      float64 // rate limit for on-demand pipeline runs
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:           getEnv("ENVIRONMENT", "production"),
		DatabaseDSN:           secrets.GetOptional("DATABASE_DSN", "linewatch:linewatch@tcp(mysql:3306)/linewatch?parseTime=true"),
		DatabaseMaxConns:      getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime:   time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         secrets.GetOptional("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		WindowLookbackMins:    getEnvInt("WINDOW_LOOKBACK_MINS", 120),
		WindowOverlapMins:     getEnvInt("WINDOW_OVERLAP_MINS", 10),
		PollIntervalSec:       getEnvInt("POLL_INTERVAL_SEC", 60),
		GroupWorkers:          getEnvInt("GROUP_WORKERS", 4),
		DefaultAlertThreshold: getEnvFloat("DEFAULT_ALERT_THRESHOLD", 1.0),
		DedupTTLMins:          getEnvInt("ALERT_DEDUP_TTL_MINS", 60),
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		MetricsPort:           getEnvInt("METRICS_PORT", 9090),
		APIMaxPageSize:        getEnvInt("API_MAX_PAGE_SIZE", 200),
		RunTriggerRPS:         getEnvFloat("RUN_TRIGGER_RPS", 0.5),
	}

	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	if origins != "" {
		cfg.CORSAllowedOrigins = parseCSV(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.WindowLookbackMins <= 0 {
		return fmt.Errorf("WINDOW_LOOKBACK_MINS must be positive, got %d", c.WindowLookbackMins)
	}
	if c.WindowOverlapMins < 0 {
		return fmt.Errorf("WINDOW_OVERLAP_MINS must not be negative, got %d", c.WindowOverlapMins)
	}
	if c.WindowOverlapMins >= c.WindowLookbackMins {
		return fmt.Errorf("WINDOW_OVERLAP_MINS (%d) must be smaller than WINDOW_LOOKBACK_MINS (%d)",
			c.WindowOverlapMins, c.WindowLookbackMins)
	}
	if c.GroupWorkers < 1 {
		return fmt.Errorf("GROUP_WORKERS must be at least 1, got %d", c.GroupWorkers)
	}
	if c.DefaultAlertThreshold < 0 {
		return fmt.Errorf("DEFAULT_ALERT_THRESHOLD must not be negative, got %f", c.DefaultAlertThreshold)
	}
	return nil
}

// RedisEnabled reports whether an optional Redis connection is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
