package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort  int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"12h"`

	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"300"`
	LoginRateLimit     int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow    time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"15m"`

	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`
	ExpiryInterval    time.Duration `env:"EXPIRY_INTERVAL" envDefault:"1h"`
	OverdueInterval   time.Duration `env:"OVERDUE_INTERVAL" envDefault:"5m"`

	LiveCacheTTL     time.Duration `env:"LIVE_CACHE_TTL" envDefault:"10s"`
	LivePushInterval time.Duration `env:"LIVE_PUSH_INTERVAL" envDefault:"15s"`

	ExportDir       string `env:"EXPORT_DIR" envDefault:"./exports"`
	DefaultTimezone string `env:"DEFAULT_TIMEZONE" envDefault:"Australia/Perth"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file, then configuration from environment variables
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid SERVER_PORT %d", c.ServerPort))
	}
	if c.Environment == "production" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in production"))
	}
	for name, d := range map[string]time.Duration{
		"SCHEDULER_INTERVAL": c.SchedulerInterval,
		"EXPIRY_INTERVAL":    c.ExpiryInterval,
		"OVERDUE_INTERVAL":   c.OverdueInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
