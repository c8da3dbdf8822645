// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package gatewaysim

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/metrics"
	"github.com/tomtom215/choresync/internal/push"
)

// Publisher delivers push frames to a household's subscribers.
type Publisher interface {
	Publish(householdID string, f push.Frame) error
}

type envelope struct {
	householdID string
	frame       push.Frame
}

// Hub keeps the websocket push clients and fans frames out to the clients
// of the frame's household.
//
// RunWithContext selects by priority: shutdown first, then client
// register/unregister, then broadcasts, so a client registered before a
// broadcast always receives it.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewHub creates a hub. RunWithContext must be running for it to deliver.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// RunWithContext runs the hub until ctx is canceled, then closes every
// client. It implements suture.Service through HubService.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error { return h.RunWithContext(ctx) }

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string { return "push-hub" }

// Publish implements Publisher. It never blocks; a full queue drops the frame.
func (h *Hub) Publish(householdID string, f push.Frame) error {
	select {
	case h.broadcast <- envelope{householdID: householdID, frame: f}:
	default:
		logging.Warn().Str("type", f.Type).Msg("Push hub queue full, dropping frame")
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SimulatorClients.Set(float64(n))
	logging.Info().Uint64("client_id", c.id).Str("household_id", c.householdID).Int("total_clients", n).Msg("Push client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SimulatorClients.Set(float64(n))
	logging.Info().Uint64("client_id", c.id).Int("total_clients", n).Msg("Push client disconnected")
}

// sorted must be called with h.mu held.
func (h *Hub) sorted() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for _, c := range h.sorted() {
		if c.householdID != env.householdID {
			continue
		}
		select {
		case c.send <- env.frame:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.SimulatorClients.Set(float64(len(h.clients)))
}

func (h *Hub) shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	n := len(h.clients)
	for _, c := range h.sorted() {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	metrics.SimulatorClients.Set(0)
	logging.Info().Str("component", "push-hub").Str("reason", context.Cause(ctx).Error()).Int("clients_closed", n).Msg("Push hub stopped")
}
