// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

//go:build !nats

package gatewaysim

import (
	"fmt"

	"github.com/tomtom215/choresync/internal/push"
)

// NATSPublisher is unavailable without the nats build tag.
type NATSPublisher struct{}

// NewNATSPublisher always fails in builds without the nats tag.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	return nil, fmt.Errorf("NATS publisher for %s: %w", url, push.ErrTransportUnavailable)
}

// Publish implements Publisher.
func (*NATSPublisher) Publish(string, push.Frame) error { return push.ErrTransportUnavailable }

// Close is a no-op.
func (*NATSPublisher) Close() error { return nil }
