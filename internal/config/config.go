// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package config loads tracker configuration with layered precedence:
// built-in defaults, then an optional YAML file, then environment
// variables. Loading is backed by Koanf v2 and validated with
// go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the tracker.
type Config struct {
	// Environment selects development or production behavior.
	// Development enables verbose diagnostic logging.
	Environment string `koanf:"environment" validate:"oneof=development production"`

	API     APIConfig     `koanf:"api" validate:"required"`
	Tracker TrackerConfig `koanf:"tracker" validate:"required"`
	Storage StorageConfig `koanf:"storage"`
	Logging LoggingConfig `koanf:"logging"`
}

// APIConfig describes the backend the tracker delivers to.
type APIConfig struct {
	// BaseURL is the API origin, e.g. "https://api.example.com".
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Token is the bearer token attached to every request.
	Token string `koanf:"token"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// TrackerConfig holds the dedup and batching tunables.
type TrackerConfig struct {
	// RecordTTL is how long a view record counts as "already viewed".
	RecordTTL time.Duration `koanf:"record_ttl" validate:"min=1m"`

	// RecordCacheTTL bounds the in-process mirror of the record list.
	RecordCacheTTL time.Duration `koanf:"record_cache_ttl" validate:"min=1s"`

	// ActorCacheTTL bounds the cached resolved actor id.
	ActorCacheTTL time.Duration `koanf:"actor_cache_ttl" validate:"min=1s"`

	// BatchSize triggers an immediate telemetry flush when reached.
	BatchSize int `koanf:"batch_size" validate:"min=1,max=1000"`

	// BatchDelay is the debounce window before a partial batch flushes.
	BatchDelay time.Duration `koanf:"batch_delay" validate:"min=100ms"`
}

// StorageConfig locates the durable ledger medium.
type StorageConfig struct {
	// Path is the BadgerDB directory for the view ledger.
	Path string `koanf:"path"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values applied.
// These defaults are layered first, then overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Environment: "production",
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8080",
			Token:   "",
			Timeout: 30 * time.Second,
		},
		Tracker: TrackerConfig{
			RecordTTL:      30 * time.Minute,
			RecordCacheTTL: 5 * time.Minute,
			ActorCacheTTL:  60 * time.Second,
			BatchSize:      10,
			BatchDelay:     3 * time.Second,
		},
		Storage: StorageConfig{
			Path: "/data/viewmark",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// IsDevelopment reports whether verbose diagnostic logging should be on.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
