// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

//go:build nats

package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/logging"
)

// NATSTransport receives the push feed from a NATS subject.
// Reconnection is owned by the Listener, so the NATS client's own
// reconnect logic is disabled.
type NATSTransport struct {
	URL string
}

// NewNATSTransport creates a transport for the NATS server at url.
func NewNATSTransport(url string) (*NATSTransport, error) {
	return &NATSTransport{URL: url}, nil
}

// Name implements Transport.
func (t *NATSTransport) Name() string { return "nats" }

// Subject returns the subject carrying a household's events.
func Subject(householdID string) string {
	return fmt.Sprintf("household.%s.events", householdID)
}

// Dial implements Transport. The connection is acknowledged once the
// subscription has been flushed to the server.
func (t *NATSTransport) Dial(ctx context.Context, cred credentials.Credential) (Conn, error) {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	c := &natsConn{queue: newFrameQueue()}

	nc, err := nats.Connect(t.URL,
		nats.Name("choresync-push"),
		nats.Token(cred.Token),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.queue.finish(fmt.Errorf("push connection lost: %w", err))
				return
			}
			c.queue.finish(nil)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.queue.finish(nil)
		}),
	)
	if err != nil {
		c.queue.abandon()
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c.nc = nc

	_, err = nc.Subscribe(Subject(cred.HouseholdID), func(msg *nats.Msg) {
		var f Frame
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject).Msg("Ignoring malformed push frame")
			return
		}
		c.queue.push(f)
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return c, nil
}

type natsConn struct {
	nc    *nats.Conn
	queue *frameQueue
	once  sync.Once
}

func (c *natsConn) Frames() <-chan Frame { return c.queue.out }

func (c *natsConn) Err() error { return c.queue.error() }

func (c *natsConn) Close() error {
	c.once.Do(func() {
		c.queue.abandon()
		if c.nc != nil {
			c.nc.Close()
		}
	})
	return nil
}
