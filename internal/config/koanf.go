// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"viewmark.yaml",
	"viewmark.yml",
	"/etc/viewmark/config.yaml",
	"/etc/viewmark/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "VIEWMARK_CONFIG"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// VIEWMARK_API_BASE_URL -> api.base_url, etc.
	if err := k.Load(env.Provider("VIEWMARK_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// findConfigFile returns the first readable config file path, or "".
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths.
// Compound leaf names (base_url, record_ttl, ...) need explicit entries
// because underscores are ambiguous between section separators and words.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "VIEWMARK_"))

	envMappings := map[string]string{
		"environment": "environment",

		"api_base_url": "api.base_url",
		"api_token":    "api.token",
		"api_timeout":  "api.timeout",

		"tracker_record_ttl":       "tracker.record_ttl",
		"tracker_record_cache_ttl": "tracker.record_cache_ttl",
		"tracker_actor_cache_ttl":  "tracker.actor_cache_ttl",
		"tracker_batch_size":       "tracker.batch_size",
		"tracker_batch_delay":      "tracker.batch_delay",

		"storage_path": "storage.path",

		"logging_level":  "logging.level",
		"logging_format": "logging.format",
		"logging_caller": "logging.caller",

		// Legacy names kept from early releases
		"log_level":  "logging.level",
		"log_format": "logging.format",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are dropped rather than guessed at.
	return ""
}
