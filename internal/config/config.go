// Package config loads the kasal server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

var (
	ErrUnknownStorage     = errors.New("unknown storage backend")
	ErrDatabaseURLMissing = errors.New("DATABASE_URL is required for postgres storage")
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port           int           `envconfig:"PORT" default:"8080"`
	Env            string        `envconfig:"ENV" default:"development"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	Storage        string        `envconfig:"STORAGE" default:"postgres"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	GoogleClientID string        `envconfig:"GOOGLE_CLIENT_ID"`
	BasePath       string        `envconfig:"BASE_PATH" default:"/api"`
	SessionMaxAge  time.Duration `envconfig:"SESSION_MAX_AGE" default:"24h"`
	CacheTTL       time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	CacheMaxSize   int           `envconfig:"CACHE_MAX_SIZE" default:"500"`
	ResetTokenTTL  time.Duration `envconfig:"RESET_TOKEN_TTL" default:"1h"`
	SweepInterval  time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"15m"`
}

// Load reads an optional .env file from each of files, then the
// environment, into a Config. Variables already set are never overridden.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLMissing
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, c.Storage)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
