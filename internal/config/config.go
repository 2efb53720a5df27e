// Package config resolves runtime settings from the environment. Values are
// read from SUNSETALERT_* variables, optionally seeded from a .env file in the
// working directory, and validated before use. Command-line flags are applied
// on top by the caller.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/nateberkopec/sunsetalert/internal/geo"
)

// EnvPrefix is prepended to every variable name, e.g. SUNSETALERT_LAT.
const EnvPrefix = "SUNSETALERT"

// Source names accepted by Config.Source.
const (
	SourceAPI   = "api"
	SourceSolar = "solar"
)

// Config is the resolved configuration.
type Config struct {
	// Latitude and Longitude stay strings so that "not configured" is
	// distinguishable from 0.
	Latitude  string `envconfig:"LAT"`
	Longitude string `envconfig:"LNG"`
	PlaceName string `envconfig:"PLACE"`

	Endpoint     string        `envconfig:"ENDPOINT" default:"https://api.sunrise-sunset.org/json" validate:"required,url"`
	Source       string        `envconfig:"SOURCE" default:"api" validate:"oneof=api solar"`
	PollInterval time.Duration `envconfig:"INTERVAL" default:"30s" validate:"min=1s"`
	FetchTimeout time.Duration `envconfig:"TIMEOUT" default:"10s" validate:"min=100ms"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"1h" validate:"min=0s"`

	Bell     bool   `envconfig:"BELL" default:"true"`
	Sound    bool   `envconfig:"SOUND" default:"true"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Phase says which loading step failed.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseValidate Phase = "validate"
)

// Error is returned by Load and Validate.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is normal; existing variables are never overridden.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, &Error{Phase: PhaseParse, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that a configured location, if any,
// parses.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &Error{Phase: PhaseValidate, Err: err}
	}
	if c.HasLocation() {
		if _, err := c.Location(); err != nil {
			return &Error{Phase: PhaseValidate, Err: err}
		}
	}
	return nil
}

// HasLocation reports whether either coordinate was supplied.
func (c *Config) HasLocation() bool {
	return strings.TrimSpace(c.Latitude) != "" || strings.TrimSpace(c.Longitude) != ""
}

// Location parses the configured coordinates.
func (c *Config) Location() (geo.Location, error) {
	return geo.Parse(c.Latitude, c.Longitude)
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
