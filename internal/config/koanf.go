// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"choresync.yaml",
	"choresync.yml",
	"config.yaml",
	"config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:        "",
			Platform:   PlatformDesktop,
			DeviceHost: "",
			Port:       3000,
		},
		HTTP: HTTPConfig{
			Timeout:                 15 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerMaxRequests:      1,
			BreakerInterval:         time.Minute,
			BreakerTimeout:          30 * time.Second,
			RateLimit:               0,
			RateBurst:               10,
		},
		Cache: CacheConfig{
			StaleAfter: 60 * time.Second,
			RetryCount: 1,
			RetryDelay: 500 * time.Millisecond,
		},
		Push: PushConfig{
			Enabled:        true,
			Transport:      TransportWebSocket,
			Path:           "/socket",
			NATSURL:        "nats://127.0.0.1:4222",
			ConnectTimeout: 10 * time.Second,
			ReconnectDelay: time.Second,
			MaxAttempts:    5,
			PingInterval:   30 * time.Second,
		},
		Credentials: CredentialsConfig{
			Dir:          "",
			InMemory:     false,
			IdentityFile: "",
			Identity:     "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Simulator: SimulatorConfig{
			Addr:         ":3000",
			HouseholdID:  "H1",
			Token:        "",
			SigningKey:   "",
			TokenTTL:     24 * time.Hour,
			RateLimit:    100,
			RateWindow:   time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Default returns the default configuration without reading files or the
// environment. Tests and embedded use start from here.
func Default() *Config {
	return defaultConfig()
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
//
// Precedence is ENV > File > Defaults. The result is validated before it is
// returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// GATEWAY_URL -> gateway.url
	// PUSH_MAX_ATTEMPTS -> push.max_attempts
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so the process environment cannot pollute
// the configuration.
var envMappings = map[string]string{
	"gateway_url":         "gateway.url",
	"gateway_platform":    "gateway.platform",
	"gateway_device_host": "gateway.device_host",
	"gateway_port":        "gateway.port",

	"http_timeout":                   "http.timeout",
	"http_breaker_failure_threshold": "http.breaker_failure_threshold",
	"http_breaker_max_requests":      "http.breaker_max_requests",
	"http_breaker_interval":          "http.breaker_interval",
	"http_breaker_timeout":           "http.breaker_timeout",
	"http_rate_limit":                "http.rate_limit",
	"http_rate_burst":                "http.rate_burst",

	"cache_stale_after": "cache.stale_after",
	"cache_retry_count": "cache.retry_count",
	"cache_retry_delay": "cache.retry_delay",

	"push_enabled":         "push.enabled",
	"push_transport":       "push.transport",
	"push_path":            "push.path",
	"push_nats_url":        "push.nats_url",
	"push_connect_timeout": "push.connect_timeout",
	"push_reconnect_delay": "push.reconnect_delay",
	"push_max_attempts":    "push.max_attempts",
	"push_ping_interval":   "push.ping_interval",

	"credentials_dir":           "credentials.dir",
	"credentials_in_memory":     "credentials.in_memory",
	"credentials_identity_file": "credentials.identity_file",
	"credentials_identity":      "credentials.identity",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",

	"simulator_addr":          "simulator.addr",
	"simulator_household_id":  "simulator.household_id",
	"simulator_token":         "simulator.token",
	"simulator_signing_key":   "simulator.signing_key",
	"simulator_token_ttl":     "simulator.token_ttl",
	"simulator_rate_limit":    "simulator.rate_limit",
	"simulator_rate_window":   "simulator.rate_window",
	"simulator_write_timeout": "simulator.write_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - GATEWAY_URL -> gateway.url
//   - PUSH_MAX_ATTEMPTS -> push.max_attempts
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
