// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

//go:build !nats

package push

import (
	"context"
	"fmt"

	"github.com/tomtom215/choresync/internal/credentials"
)

// NATSTransport is unavailable without the nats build tag.
type NATSTransport struct {
	URL string
}

// NewNATSTransport reports ErrTransportUnavailable in builds without NATS.
func NewNATSTransport(url string) (*NATSTransport, error) {
	return nil, fmt.Errorf("nats transport (rebuild with -tags nats): %w", ErrTransportUnavailable)
}

// Name implements Transport.
func (t *NATSTransport) Name() string { return "nats" }

// Subject returns the subject carrying a household's events.
func Subject(householdID string) string {
	return fmt.Sprintf("household.%s.events", householdID)
}

// Dial implements Transport.
func (t *NATSTransport) Dial(context.Context, credentials.Credential) (Conn, error) {
	return nil, ErrTransportUnavailable
}
