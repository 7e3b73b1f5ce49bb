// Package config loads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the recognized environment surface of the service.
type Config struct {
	Addr        string        `env:"ACCESSD_ADDR"              envDefault:":8080"`
	DatabaseDSN string        `env:"ACCESSD_PG_DSN"`
	KeySize     int           `env:"ACCESSD_KEY_SIZE"          envDefault:"2048"`
	AccessTTL   time.Duration `env:"ACCESSD_ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTTL  time.Duration `env:"ACCESSD_REFRESH_TOKEN_TTL" envDefault:"168h"`
	SweepEvery  time.Duration `env:"ACCESSD_SWEEP_INTERVAL"    envDefault:"1m"`
	Issuer      string        `env:"ACCESSD_ISSUER"            envDefault:"accessd"`
	Audience    string        `env:"ACCESSD_AUDIENCE"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AccessTTL <= 0 {
		return errors.New("config: access token TTL must be positive")
	}
	if c.RefreshTTL <= 0 {
		return errors.New("config: refresh token TTL must be positive")
	}
	if c.SweepEvery <= 0 {
		return errors.New("config: sweep interval must be positive")
	}
	if c.Issuer == "" {
		return errors.New("config: issuer is required")
	}
	return nil
}
