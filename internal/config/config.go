// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package config

import "time"

// Config holds all configuration for the choresync sync core, the CLI and the
// gateway simulator.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every setting
//  2. Config File: Optional YAML file (CONFIG_PATH or config.yaml)
//  3. Environment Variables: Override any mapped setting
//
// Configuration Categories:
//
//  1. Backend Gateway:
//     - Gateway: base URL resolution per platform
//     - HTTP: request timeout, circuit breaker, outbound rate limit
//
//  2. Sync core:
//     - Cache: freshness window and retry policy of the query cache
//     - Push: push feed transport, connect timeout, reconnect policy
//     - Credentials: encrypted session store location and identity
//
//  3. Runtime:
//     - Logging: level and output format
//     - Supervisor: restart policy of supervised services
//     - Simulator: local gateway simulator (development and tests)
type Config struct {
	Gateway     GatewayConfig     `koanf:"gateway"`
	HTTP        HTTPConfig        `koanf:"http"`
	Cache       CacheConfig       `koanf:"cache"`
	Push        PushConfig        `koanf:"push"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Logging     LoggingConfig     `koanf:"logging"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
	Simulator   SimulatorConfig   `koanf:"simulator"`
}

// Platform names accepted by GatewayConfig.Platform.
const (
	PlatformAndroidEmulator = "android-emulator"
	PlatformIOSSimulator    = "ios-simulator"
	PlatformDesktop         = "desktop"
	PlatformDevice          = "device"
)

// GatewayConfig locates the Backend Gateway. URL, when set, overrides the
// platform default.
type GatewayConfig struct {
	URL        string `koanf:"url"`
	Platform   string `koanf:"platform"`
	DeviceHost string `koanf:"device_host"`
	Port       int    `koanf:"port"`
}

// HTTPConfig holds settings of the HTTP client pipeline.
type HTTPConfig struct {
	Timeout time.Duration `koanf:"timeout"`

	// BreakerFailureThreshold is the number of consecutive transport or 5xx
	// failures that opens the circuit.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`

	// RateLimit is the outbound requests-per-second budget; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	StaleAfter time.Duration `koanf:"stale_after"`
	RetryCount int           `koanf:"retry_count"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// Push transports.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// PushConfig holds push listener settings.
type PushConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Transport      string        `koanf:"transport"`
	Path           string        `koanf:"path"`
	NATSURL        string        `koanf:"nats_url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
	MaxAttempts    int           `koanf:"max_attempts"`
	PingInterval   time.Duration `koanf:"ping_interval"`
}

// CredentialsConfig holds the session store settings. An empty Dir keeps the
// store in memory.
type CredentialsConfig struct {
	Dir          string `koanf:"dir"`
	InMemory     bool   `koanf:"in_memory"`
	IdentityFile string `koanf:"identity_file"`
	Identity     string `koanf:"identity"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig holds suture restart policy settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// SimulatorConfig holds gateway simulator settings.
type SimulatorConfig struct {
	Addr         string        `koanf:"addr"`
	HouseholdID  string        `koanf:"household_id"`
	Token        string        `koanf:"token"`
	SigningKey   string        `koanf:"signing_key"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	RateLimit    int           `koanf:"rate_limit"`
	RateWindow   time.Duration `koanf:"rate_window"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}
