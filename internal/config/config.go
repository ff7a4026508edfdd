// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	CORSOrigins    string
	GRPCHealthPort string
	SessionTTL     time.Duration
	Gateway        GatewayConfig
	Engine         EngineConfig
	RateLimit      RateLimitConfig
}

// GatewayConfig locates the recommender backends.
type GatewayConfig struct {
	QuizURL  string
	SwipeURL string
	Timeout  time.Duration
}

// EngineConfig tunes both elicitation modalities.
type EngineConfig struct {
	SwipeBudget    int
	SwipeBatchSize int
	TopK           int
	DeclinePenalty int
}

// RateLimitConfig bounds API requests per visitor.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	frontendURL := getEnv("FRONTEND_URL", "")
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    frontendURL,
		DBPath:         getEnv("DB_PATH", "./data/okkonator.db"),
		CORSOrigins:    getEnv("CORS_ORIGINS", ""),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		Gateway: GatewayConfig{
			QuizURL:  getEnv("RECOMMENDER_URL", "http://localhost:5001/api/okkonator"),
			SwipeURL: getEnv("SWIPE_URL", "http://localhost:5002/api"),
			Timeout:  getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Engine: EngineConfig{
			SwipeBudget:    getEnvInt("SWIPE_BUDGET", 20),
			SwipeBatchSize: getEnvInt("SWIPE_BATCH_SIZE", 20),
			TopK:           getEnvInt("RECOMMENDATIONS_TOP_K", 6),
			DeclinePenalty: getEnvInt("QUIZ_DECLINE_PENALTY", 20),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 120),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = defaultCORSOrigins(frontendURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.Gateway.QuizURL == "" {
		errs = append(errs, errors.New("RECOMMENDER_URL cannot be empty"))
	}
	if c.Gateway.SwipeURL == "" {
		errs = append(errs, errors.New("SWIPE_URL cannot be empty"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be > 0"))
	}
	if c.Engine.SwipeBudget <= 0 {
		errs = append(errs, errors.New("SWIPE_BUDGET must be > 0"))
	}
	if c.Engine.SwipeBatchSize <= 0 {
		errs = append(errs, errors.New("SWIPE_BATCH_SIZE must be > 0"))
	}
	if c.Engine.TopK <= 0 {
		errs = append(errs, errors.New("RECOMMENDATIONS_TOP_K must be > 0"))
	}
	if c.Engine.DeclinePenalty < 0 || c.Engine.DeclinePenalty > 100 {
		errs = append(errs, errors.New("QUIZ_DECLINE_PENALTY must be within [0, 100]"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0"))
	}
	return errors.Join(errs...)
}

// defaultCORSOrigins allows the frontend origin when one is configured, so
// its requests carry the visitor cookie. Without one every origin is allowed
// and no credentials are sent cross-origin.
func defaultCORSOrigins(frontendURL string) string {
	if frontendURL != "" {
		return frontendURL
	}
	return "*"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
