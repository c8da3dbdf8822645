// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024 // 512 KB
)

// WebSocketTransport connects to the gateway push feed over a websocket.
//
// The session is presented as an Authorization: Bearer header and the
// household as the householdId query parameter. Pings are sent every
// PingInterval; a connection that sees neither data nor a pong for two
// intervals is considered dead.
type WebSocketTransport struct {
	BaseURL      string
	Path         string
	PingInterval time.Duration
}

// NewWebSocketTransport creates a transport for the gateway at baseURL.
func NewWebSocketTransport(baseURL, path string, pingInterval time.Duration) *WebSocketTransport {
	if path == "" {
		path = "/socket"
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WebSocketTransport{BaseURL: baseURL, Path: path, PingInterval: pingInterval}
}

// Name implements Transport.
func (t *WebSocketTransport) Name() string { return "websocket" }

// buildURL converts the gateway base URL to the feed URL.
//
// Format: ws://{host}{path}?householdId={id}
func (t *WebSocketTransport) buildURL(householdID string) (string, error) {
	parsed, err := url.Parse(t.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	scheme := "ws"
	if parsed.Scheme == "https" {
		scheme = "wss"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   strings.TrimRight(parsed.Path, "/") + t.Path,
	}
	q := u.Query()
	q.Set("householdId", householdID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial implements Transport. The deadline of ctx bounds the handshake.
func (t *WebSocketTransport) Dial(ctx context.Context, cred credentials.Credential) (Conn, error) {
	wsURL, err := t.buildURL(cred.HouseholdID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)

	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		EnableCompression: true,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(deadline)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &wsConn{
		conn:   conn,
		queue:  newFrameQueue(),
		stop:   make(chan struct{}),
		period: t.PingInterval,
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	queue   *frameQueue
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	period  time.Duration
}

func (c *wsConn) Frames() <-chan Frame { return c.queue.out }

func (c *wsConn) Err() error { return c.queue.error() }

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.queue.abandon()

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *wsConn) readLoop() {
	defer c.wg.Done()

	pongWait := 2 * c.period
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				c.queue.finish(nil)
			default:
				c.queue.finish(fmt.Errorf("push connection lost: %w", err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed push frame")
			continue
		}
		c.queue.push(f)
	}
}

func (c *wsConn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				logging.Debug().Err(err).Msg("Push ping failed")
				_ = c.conn.Close()
				return
			}
		}
	}
}
