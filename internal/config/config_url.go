// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BaseURL resolves the Backend Gateway base URL.
//
// An explicit gateway.url (env GATEWAY_URL) wins. Otherwise the platform picks
// the host: the Android emulator reaches the development machine through
// 10.0.2.2, the iOS simulator and desktop builds use localhost, and a physical
// device needs gateway.device_host.
func (g GatewayConfig) BaseURL() (string, error) {
	if g.URL != "" {
		return strings.TrimRight(g.URL, "/"), nil
	}

	port := g.Port
	if port == 0 {
		port = 3000
	}

	var host string
	switch g.Platform {
	case PlatformAndroidEmulator:
		host = "10.0.2.2"
	case PlatformIOSSimulator, PlatformDesktop, "":
		host = "localhost"
	case PlatformDevice:
		if g.DeviceHost == "" {
			return "", fmt.Errorf("gateway.device_host is required for platform %q", PlatformDevice)
		}
		host = g.DeviceHost
	default:
		return "", fmt.Errorf("unknown gateway platform %q", g.Platform)
	}

	return "http://" + host + ":" + strconv.Itoa(port), nil
}

// validateHTTPURL validates that a URL is properly formatted for HTTP/HTTPS services.
// Validates: scheme (http/https), host present, no paths or query params.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return fmt.Errorf("%s should be base URL only, remove path: %s", fieldName, parsedURL.Path)
	}

	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}

	return nil
}

// validateNATSURL validates that the NATS URL is properly formatted.
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222)")
	}

	return nil
}
