// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package gatewaysim is an in-process Backend Gateway for local development
// and end-to-end tests. It serves the household REST endpoints under the
// {status, data} envelope and pushes taskUpdated events to websocket
// clients (and optionally NATS) whenever a task changes.
package gatewaysim

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/metrics"
	"github.com/tomtom215/choresync/internal/push"
)

// Simulator is the simulated gateway.
type Simulator struct {
	cfg        config.SimulatorConfig
	store      *Store
	hub        *Hub
	tokens     *tokenIssuer
	publishers []Publisher
	upgrader   websocket.Upgrader
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithPublisher adds a publisher that receives every emitted frame in
// addition to the websocket hub.
func WithPublisher(p Publisher) Option {
	return func(s *Simulator) { s.publishers = append(s.publishers, p) }
}

// New creates a simulator over store.
func New(cfg config.SimulatorConfig, store *Store, opts ...Option) (*Simulator, error) {
	tokens, err := newTokenIssuer(cfg.SigningKey, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	hub := NewHub()
	s := &Simulator{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		tokens:     tokens,
		publishers: []Publisher{hub},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store returns the simulated household state.
func (s *Simulator) Store() *Store { return s.store }

// Hub returns the websocket push hub. It must be served for websocket
// clients to receive frames.
func (s *Simulator) Hub() *Hub { return s.hub }

// Serve runs the push hub until ctx is done. It implements suture.Service.
func (s *Simulator) Serve(ctx context.Context) error { return s.hub.RunWithContext(ctx) }

// String implements fmt.Stringer for supervisor logging.
func (s *Simulator) String() string { return "gateway-sim" }

// IssueToken returns a session token for member of the simulated household.
func (s *Simulator) IssueToken(memberID string) (string, error) {
	return s.tokens.Issue(s.store.HouseholdID(), memberID)
}

// Emit publishes f to every subscriber of householdID.
func (s *Simulator) Emit(householdID string, f push.Frame) error {
	metrics.SimulatorBroadcasts.WithLabelValues(f.Type).Inc()
	for _, p := range s.publishers {
		if err := p.Publish(householdID, f); err != nil {
			return fmt.Errorf("publish %s: %w", f.Type, err)
		}
	}
	return nil
}

// taskEvent is the taskUpdated payload: the task fields plus an optional
// points update for its assignee.
type taskEvent struct {
	household.Task
	MemberUpdate *events.MemberUpdate `json:"memberUpdate,omitempty"`
}

// EmitTaskUpdated broadcasts a taskUpdated event for t.
func (s *Simulator) EmitTaskUpdated(householdID string, t household.Task, mu *events.MemberUpdate) error {
	data, err := json.Marshal(taskEvent{Task: t, MemberUpdate: mu})
	if err != nil {
		return fmt.Errorf("encode task event: %w", err)
	}
	return s.Emit(householdID, push.Frame{Type: events.NameTaskUpdated, Data: data})
}

// Router returns the HTTP handler of the simulator.
func (s *Simulator) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.cfg.RateLimit > 0 {
		window := s.cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, window))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/api/households/{id}", s.handleHousehold)
		r.Get("/api/tasks", s.handleTasks)
		r.Put("/api/tasks/{id}/{action}", s.handleTransition)
		r.Get("/api/members", s.handleMembers)
		r.Get("/api/members/{id}", s.handleMember)

		r.Get("/socket", s.handleSocket)
		r.Post("/sim/emit", s.handleEmit)
	})

	return r
}

// NewHTTPServer returns an http.Server serving Router on cfg.Addr.
func (s *Simulator) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// websocket connections outlive any write timeout; the hub sets
		// per-frame deadlines instead
		WriteTimeout: 0,
	}
}

func logRequest(r *http.Request) {
	logging.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Msg("Gateway request")
}
