package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Upstream webhook. No default on purpose: absence is reported per
	// request as a configuration error, the process still starts.
	N8NWebhookURL string        `env:"N8N_WEBHOOK_URL"`
	N8NTimeout    time.Duration `env:"N8N_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitMax     int           `env:"RATE_LIMIT_MAX" envDefault:"20"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`

	// Redis (only used when RATE_LIMIT_BACKEND=redis)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Sessions
	SessionCookie string        `env:"SESSION_COOKIE" envDefault:"chat_session"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionSecret string        `env:"SESSION_SECRET"`

	// CORS origin for the site frontend
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
