// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package client wires the sync core into one service object.
//
// A Client owns the credential store, the gateway HTTP client, the query
// cache, the optimistic coordinator, the push listener and the household
// repository built on them. There are no package-level singletons: every
// component is created by New, started by Init and released by Dispose.
//
//	c, err := client.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer c.Dispose()
//	if err := c.Init(ctx); err != nil {
//	    return err
//	}
//	tasks, err := c.Household().Tasks(ctx)
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/choresync/internal/apiclient"
	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/optimistic"
	"github.com/tomtom215/choresync/internal/push"
	"github.com/tomtom215/choresync/internal/querycache"
	"github.com/tomtom215/choresync/internal/supervisor"
)

// ErrDisposed is returned by calls made after Dispose.
var ErrDisposed = errors.New("client disposed")

// Option configures a Client.
type Option func(*options)

type options struct {
	notifier  optimistic.Notifier
	transport push.Transport
}

// WithNotifier routes mutation success and failure messages to n.
func WithNotifier(n optimistic.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithTransport replaces the push transport selected by configuration.
func WithTransport(t push.Transport) Option {
	return func(o *options) { o.transport = t }
}

// Client is the sync core service object.
type Client struct {
	cfg *config.Config

	creds     *credentials.Store
	api       *apiclient.Client
	cache     *querycache.Cache
	bus       *events.Bus
	coord     *optimistic.Coordinator
	listener  *push.Listener
	household *household.Repository
	tree      *supervisor.Tree

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     <-chan error
	started  bool
	disposed bool
}

// New builds every component from cfg. Nothing runs until Init.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL, err := cfg.Gateway.BaseURL()
	if err != nil {
		return nil, err
	}

	transport := o.transport
	if transport == nil && cfg.Push.Enabled {
		transport, err = newTransport(baseURL, cfg.Push)
		if err != nil {
			return nil, err
		}
	}

	creds, err := credentials.Open(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:   cfg,
		creds: creds,
		cache: querycache.New(cfg.Cache),
		bus:   events.NewBus(),
	}
	c.api = apiclient.New(baseURL, cfg.HTTP, creds)
	c.coord = optimistic.New(c.cache, o.notifier)
	c.household = household.NewRepository(c.api, c.cache, c.coord)
	if transport != nil {
		c.listener = push.New(transport, creds, c.cache, c.bus, cfg.Push)
	}

	c.tree = supervisor.NewTree(logging.NewSlogLogger(), cfg.Supervisor)
	if c.listener != nil {
		c.tree.AddRealtimeService(c.listener)
	}
	return c, nil
}

func newTransport(baseURL string, cfg config.PushConfig) (push.Transport, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		t, err := push.NewNATSTransport(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return push.NewWebSocketTransport(baseURL, cfg.Path, cfg.PingInterval), nil
	}
}

// Init starts the supervised services. With a stored session the push
// listener connects right away; otherwise it idles until Login.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.started {
		return nil
	}

	if cred, err := c.creds.Credential(ctx); err == nil {
		if exp, ok := credentials.TokenExpiry(cred.Token); ok && exp.Before(time.Now()) {
			logging.Warn().Time("expired_at", exp).Msg("Stored session token has expired, please log in again")
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = c.tree.ServeBackground(runCtx)
	c.started = true

	logging.Info().
		Str("gateway", c.api.BaseURL()).
		Bool("push", c.listener != nil).
		Msg("Sync core started")
	return nil
}

// Dispose stops the services and closes the credential store. It is safe
// to call more than once.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Supervisor stopped with error")
		}
		if report, err := c.tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
			logging.Warn().Int("count", len(report)).Msg("Services did not stop in time")
		}
	}

	if err := c.creds.Close(); err != nil {
		return err
	}
	logging.Info().Msg("Sync core stopped")
	return nil
}

// AddService runs svc in the api layer of the client's supervisor tree,
// next to the push listener.
func (c *Client) AddService(svc suture.Service) suture.ServiceToken {
	return c.tree.AddAPIService(svc)
}

// Household returns the screen-facing household repository.
func (c *Client) Household() *household.Repository { return c.household }

// Cache returns the query cache.
func (c *Client) Cache() *querycache.Cache { return c.cache }

// Events returns the push event bus.
func (c *Client) Events() *events.Bus { return c.bus }

// Coordinator returns the optimistic mutation coordinator.
func (c *Client) Coordinator() *optimistic.Coordinator { return c.coord }

// API returns the gateway HTTP client.
func (c *Client) API() *apiclient.Client { return c.api }

// Credentials returns the session store.
func (c *Client) Credentials() *credentials.Store { return c.creds }

// Listener returns the push listener, or nil when push is disabled.
func (c *Client) Listener() *push.Listener { return c.listener }

type loginRequest struct {
	HouseholdID string `json:"householdId"`
	MemberID    string `json:"memberId"`
}

type loginResponse struct {
	Token       string `json:"token"`
	HouseholdID string `json:"householdId"`
}

// Login exchanges a member identity for a session token, stores the
// session and starts the push connection.
func (c *Client) Login(ctx context.Context, householdID, memberID string) error {
	var resp loginResponse
	if err := c.api.Post(ctx, "/api/auth/login", loginRequest{HouseholdID: householdID, MemberID: memberID}, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.HouseholdID == "" {
		resp.HouseholdID = householdID
	}
	return c.SignIn(ctx, resp.Token, resp.HouseholdID)
}

// SignIn stores an existing session token and starts the push connection.
func (c *Client) SignIn(ctx context.Context, token, householdID string) error {
	if err := c.checkLive(); err != nil {
		return err
	}
	// the feed still dialed for the previous session must go first
	if c.listener != nil {
		c.listener.Suspend()
		defer c.listener.Reconnect()
	}
	if err := c.creds.SaveSession(ctx, token, householdID); err != nil {
		return err
	}
	// a new session must not see the previous one's data
	c.cache.Clear()
	return nil
}

// Logout drops the push connection, clears the session and empties the cache.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.checkLive(); err != nil {
		return err
	}
	if c.listener != nil {
		c.listener.Suspend()
	}
	if err := c.creds.ClearSession(ctx); err != nil {
		return err
	}
	c.cache.Clear()
	return nil
}

// Foreground is called when the app returns to the foreground. It retries
// a push connection that gave up.
func (c *Client) Foreground() {
	if c.listener != nil {
		c.listener.Reconnect()
	}
}

func (c *Client) checkLive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	return nil
}
