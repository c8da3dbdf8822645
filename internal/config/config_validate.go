// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package config

import (
	"fmt"
	"strings"
)

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validatePush(); err != nil {
		return err
	}
	if err := c.validateCredentials(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateGateway() error {
	if c.Gateway.URL != "" {
		if err := validateHTTPURL(c.Gateway.URL, "GATEWAY_URL"); err != nil {
			return err
		}
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("GATEWAY_PORT must be between 0 and 65535, got %d", c.Gateway.Port)
	}
	if _, err := c.Gateway.BaseURL(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.HTTP.Timeout)
	}
	if c.HTTP.BreakerFailureThreshold == 0 {
		return fmt.Errorf("HTTP_BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("HTTP_RATE_LIMIT must not be negative, got %v", c.HTTP.RateLimit)
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst < 1 {
		return fmt.Errorf("HTTP_RATE_BURST must be at least 1 when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.StaleAfter < 0 {
		return fmt.Errorf("CACHE_STALE_AFTER must not be negative, got %v", c.Cache.StaleAfter)
	}
	if c.Cache.RetryCount < 0 {
		return fmt.Errorf("CACHE_RETRY_COUNT must not be negative, got %d", c.Cache.RetryCount)
	}
	if c.Cache.RetryDelay < 0 {
		return fmt.Errorf("CACHE_RETRY_DELAY must not be negative, got %v", c.Cache.RetryDelay)
	}
	return nil
}

func (c *Config) validatePush() error {
	if !c.Push.Enabled {
		return nil
	}
	switch c.Push.Transport {
	case TransportWebSocket:
		if !strings.HasPrefix(c.Push.Path, "/") {
			return fmt.Errorf("PUSH_PATH must start with '/', got %q", c.Push.Path)
		}
	case TransportNATS:
		if err := validateNATSURL(c.Push.NATSURL); err != nil {
			return fmt.Errorf("PUSH_NATS_URL: %w", err)
		}
	default:
		return fmt.Errorf("PUSH_TRANSPORT must be %q or %q, got %q", TransportWebSocket, TransportNATS, c.Push.Transport)
	}
	if c.Push.ConnectTimeout <= 0 {
		return fmt.Errorf("PUSH_CONNECT_TIMEOUT must be positive, got %v", c.Push.ConnectTimeout)
	}
	if c.Push.ReconnectDelay < 0 {
		return fmt.Errorf("PUSH_RECONNECT_DELAY must not be negative, got %v", c.Push.ReconnectDelay)
	}
	if c.Push.MaxAttempts < 1 {
		return fmt.Errorf("PUSH_MAX_ATTEMPTS must be at least 1, got %d", c.Push.MaxAttempts)
	}
	return nil
}

func (c *Config) validateCredentials() error {
	if c.Credentials.Identity != "" && !strings.HasPrefix(c.Credentials.Identity, "AGE-SECRET-KEY-") {
		return fmt.Errorf("CREDENTIALS_IDENTITY must be an age X25519 identity")
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, disabled; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// ValidateSimulator checks the gateway simulator settings.
func (c *Config) ValidateSimulator() error {
	if c.Simulator.Addr == "" {
		return fmt.Errorf("SIMULATOR_ADDR is required")
	}
	if c.Simulator.HouseholdID == "" {
		return fmt.Errorf("SIMULATOR_HOUSEHOLD_ID is required")
	}
	if c.Simulator.SigningKey != "" && len(c.Simulator.SigningKey) < 32 {
		return fmt.Errorf("SIMULATOR_SIGNING_KEY must be at least 32 characters")
	}
	if c.Simulator.TokenTTL < 0 {
		return fmt.Errorf("SIMULATOR_TOKEN_TTL must not be negative, got %v", c.Simulator.TokenTTL)
	}
	if c.Simulator.RateLimit < 0 {
		return fmt.Errorf("SIMULATOR_RATE_LIMIT must not be negative, got %d", c.Simulator.RateLimit)
	}
	return nil
}
