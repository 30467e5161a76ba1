// Package config loads capa settings from an optional YAML file and CAPA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full capa configuration.
type Config struct {
	DBPath    string          `yaml:"db_path" env:"CAPA_DB_PATH"` // empty means ~/.capa/capa.db
	LogLevel  string          `yaml:"log_level" env:"CAPA_LOG_LEVEL" env-default:"info"`
	LogFile   string          `yaml:"log_file" env:"CAPA_LOG_FILE"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SweepConfig controls the reconciliation sweeper.
type SweepConfig struct {
	Enabled   bool          `yaml:"enabled" env:"CAPA_SWEEP_ENABLED"` // defaults to true, see defaults()
	Interval  time.Duration `yaml:"interval" env:"CAPA_SWEEP_INTERVAL" env-default:"5m"`
	BatchSize int           `yaml:"batch_size" env:"CAPA_SWEEP_BATCH_SIZE" env-default:"100"`
	// CompletedLateIsOverdue keeps an item that was completed after its due
	// date flagged overdue. Off by default: completed items are never overdue.
	CompletedLateIsOverdue bool `yaml:"completed_late_is_overdue" env:"CAPA_COMPLETED_LATE_IS_OVERDUE" env-default:"false"`
}

// TelemetryConfig controls OpenTelemetry metrics.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" env:"CAPA_TELEMETRY_ENABLED" env-default:"false"`
	Stdout  bool `yaml:"stdout" env:"CAPA_TELEMETRY_STDOUT" env-default:"false"`
}

// Load reads the YAML file at path, then applies environment overrides.
// An empty path reads the environment only. A path that does not exist is
// an error; use DefaultPath with LoadOptional for the implicit file.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaults holds values cleanenv cannot express: env-default is only applied
// to zero fields, so a default of true could never be turned off from YAML.
func defaults() Config {
	return Config{Sweep: SweepConfig{Enabled: true}}
}

// LoadOptional behaves like Load but falls back to the environment when the
// file at path does not exist.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

// Validate checks values that cleanenv cannot.
func (c *Config) Validate() error {
	if c.Sweep.Interval < time.Second {
		return fmt.Errorf("sweep.interval must be at least 1s, got %s", c.Sweep.Interval)
	}
	if c.Sweep.BatchSize < 1 {
		return fmt.Errorf("sweep.batch_size must be positive, got %d", c.Sweep.BatchSize)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("log_level %q is not one of trace, debug, info, warn, error, fatal, disabled", c.LogLevel)
	}
	return nil
}

// CronSpec returns the scheduler spec for the sweep interval.
func (s SweepConfig) CronSpec() string {
	return "@every " + s.Interval.String()
}

// DefaultPath returns the default config file location (~/.capa/config.yaml).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".capa", "config.yaml"), nil
}
