package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "DB_PATH", "RECOMMENDER_URL", "SWIPE_URL", "GATEWAY_TIMEOUT",
		"SWIPE_BUDGET", "SWIPE_BATCH_SIZE", "RECOMMENDATIONS_TOP_K",
		"QUIZ_DECLINE_PENALTY", "SESSION_TTL", "RATE_LIMIT_REQUESTS",
		"RATE_LIMIT_WINDOW", "CORS_ORIGINS", "FRONTEND_URL",
	} {
		t.Setenv(k, "")
	}
	// Unparseable numbers and durations fall back to defaults.
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/okkonator.db")
	t.Setenv("RECOMMENDER_URL", "http://localhost:5001/api/okkonator")
	t.Setenv("SWIPE_URL", "http://localhost:5002/api")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 20, cfg.Engine.SwipeBudget)
	assert.Equal(t, 20, cfg.Engine.SwipeBatchSize)
	assert.Equal(t, 6, cfg.Engine.TopK)
	assert.Equal(t, 20, cfg.Engine.DeclinePenalty)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 120, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "*", cfg.CORSOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/okko.db")
	t.Setenv("RECOMMENDER_URL", "http://rec:5001/api/okkonator")
	t.Setenv("SWIPE_URL", "http://swipe:5002/api")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("SWIPE_BUDGET", "10")
	t.Setenv("QUIZ_DECLINE_PENALTY", "0")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("FRONTEND_URL", "https://okko.tv")
	t.Setenv("CORS_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 10, cfg.Engine.SwipeBudget)
	assert.Equal(t, 0, cfg.Engine.DeclinePenalty)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "https://okko.tv", cfg.CORSOrigins, "the frontend origin is allowed with credentials")
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		return &Config{
			Port:       "8080",
			DBPath:     "db",
			SessionTTL: time.Hour,
			Gateway:    GatewayConfig{QuizURL: "http://a", SwipeURL: "http://b", Timeout: time.Second},
			Engine:     EngineConfig{SwipeBudget: 20, SwipeBatchSize: 20, TopK: 6, DeclinePenalty: 20},
			RateLimit:  RateLimitConfig{Requests: 1, Window: time.Second},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty quiz url", func(c *Config) { c.Gateway.QuizURL = "" }},
		{"zero timeout", func(c *Config) { c.Gateway.Timeout = 0 }},
		{"zero budget", func(c *Config) { c.Engine.SwipeBudget = 0 }},
		{"negative penalty", func(c *Config) { c.Engine.DeclinePenalty = -1 }},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"zero rate", func(c *Config) { c.RateLimit.Requests = 0 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
