// Package config loads the service configuration from the environment and
// the page table from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	Port           int           `env:"PORT"            envDefault:"8420"`
	StaticDir      string        `env:"STATIC_DIR"      envDefault:"./frontend/dist"`
	PagesFile      string        `env:"PAGES_FILE"`
	NavDebounce    time.Duration `env:"NAV_DEBOUNCE"    envDefault:"100ms"`
	ReadyTimeout   time.Duration `env:"READY_TIMEOUT"   envDefault:"5s"`
	SessionTTL     time.Duration `env:"SESSION_TTL"     envDefault:"1h"`
	TokenSecret    string        `env:"TOKEN_SECRET"`
	LogLevel       string        `env:"LOG_LEVEL"       envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT"      envDefault:"json"`
	MetricsEnabled bool          `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.NavDebounce < 0 {
		return fmt.Errorf("NAV_DEBOUNCE must not be negative")
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("READY_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
