package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort   string
	DatabaseURL  string
	RedisURL     string
	RemoteURL    string
	RemoteSecret string
	DeviceID     string

	MaxCacheSize    int64
	DefaultCacheTTL time.Duration

	SyncBatchSize   int
	SyncMaxAttempts int
	SyncInterval    time.Duration
	ProbeInterval   time.Duration
	RetentionDays   int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RemoteURL:    os.Getenv("REMOTE_URL"),
		RemoteSecret: os.Getenv("REMOTE_SECRET"),
		DeviceID:     getEnv("DEVICE_ID", "tillsync-dev"),
	}

	var err error
	if cfg.MaxCacheSize, err = getEnvInt64("MAX_CACHE_SIZE", 50*1024*1024); err != nil {
		return nil, err
	}
	if cfg.DefaultCacheTTL, err = getEnvDuration("DEFAULT_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.SyncBatchSize, err = getEnvInt("SYNC_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.SyncMaxAttempts, err = getEnvInt("SYNC_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getEnvDuration("SYNC_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getEnvDuration("PROBE_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = getEnvInt("RETENTION_DAYS", 30); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.RemoteURL == "" {
		return nil, errors.New("REMOTE_URL is required")
	}
	if cfg.RemoteSecret == "" {
		return nil, errors.New("REMOTE_SECRET is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}
