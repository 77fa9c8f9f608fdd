// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the forwarder configuration. Values come from an optional
// YAML file, with environment variables taking precedence so deployments
// can keep API credentials out of the config file.
type Config struct {
	// APIID and APIHash identify the application to Telegram.
	APIID   int32  `yaml:"api_id" env:"TG_API_ID"`
	APIHash string `yaml:"api_hash" env:"TG_API_HASH"`

	// HTTPAddr is the listen address for the JSON API.
	HTTPAddr string `yaml:"http_addr" env:"FORWARDER_HTTP_ADDR"`

	// SessionDir holds one credential blob per account
	// (<dir>/<phone>.session).
	SessionDir string `yaml:"session_dir" env:"FORWARDER_SESSION_DIR"`

	// RedirectionFile is the durable source→destinations mapping.
	RedirectionFile string `yaml:"redirection_file" env:"FORWARDER_REDIRECTION_FILE"`

	// LogLevel is a zerolog level name (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level" env:"FORWARDER_LOG_LEVEL"`

	// RetryAttempts and RetryStep define the bounded retry policy applied
	// when the credential store reports a transient lock: attempt n waits
	// n*RetryStep before reconnecting.
	RetryAttempts int           `yaml:"retry_attempts" env:"FORWARDER_RETRY_ATTEMPTS"`
	RetryStep     time.Duration `yaml:"retry_step" env:"FORWARDER_RETRY_STEP"`
}

// DefaultConfig returns the built-in defaults, matching the layout the
// forwarder has always used on disk.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":5001",
		SessionDir:      "sessions",
		RedirectionFile: "active_redirections.json",
		LogLevel:        "info",
		RetryAttempts:   3,
		RetryStep:       500 * time.Millisecond,
	}
}

// LoadConfig reads the YAML file at path (a missing file is not an
// error), applies environment overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.PostProcess(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PostProcess validates the config and fills derived defaults.
func (c *Config) PostProcess() error {
	if c.APIID == 0 || c.APIHash == "" {
		return fmt.Errorf("api_id and api_hash are required (TG_API_ID / TG_API_HASH)")
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryStep <= 0 {
		c.RetryStep = 500 * time.Millisecond
	}
	return nil
}
