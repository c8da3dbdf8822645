// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

//go:build nats

package gatewaysim

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/choresync/internal/push"
)

// NATSPublisher publishes frames on the household subject of a NATS server.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("choresync-gatewaysim"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(householdID string, f push.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := p.nc.Publish(push.Subject(householdID), data); err != nil {
		return fmt.Errorf("publish to %s: %w", push.Subject(householdID), err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
