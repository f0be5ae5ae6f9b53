// Package config provides configuration loading and validation for the
// grading service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the service configuration, loaded from the environment.
type Config struct {
	Port         int    `validate:"gt=0,lte=65535"`
	DatabaseURL  string `validate:"required"`
	GeminiAPIKey string `validate:"required"`

	// Object storage: a presigned-upload base URL, or a local directory
	// for development. Exactly one is used; the directory wins when set.
	ObjectStoreURL string
	ObjectStoreDir string

	MaxConcurrent int           `validate:"gt=0"`
	MaxJobRuntime time.Duration `validate:"gt=0"`
	JobTTL        time.Duration `validate:"gt=0"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           envInt("PORT", 8080),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		ObjectStoreURL: os.Getenv("OBJECT_STORE_URL"),
		ObjectStoreDir: os.Getenv("OBJECT_STORE_DIR"),
		MaxConcurrent:  envInt("WORKER_MAX_CONCURRENT", 2),
		MaxJobRuntime:  envDuration("WORKER_MAX_JOB_RUNTIME", 10*time.Minute),
		JobTTL:         envDuration("JOB_TTL", 24*time.Hour),
	}

	if cfg.ObjectStoreURL == "" && cfg.ObjectStoreDir == "" {
		return nil, fmt.Errorf("config error: one of OBJECT_STORE_URL or OBJECT_STORE_DIR is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
