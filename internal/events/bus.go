// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package events

import (
	"sort"
	"sync"

	"github.com/tomtom215/choresync/internal/logging"
)

// Bus is an in-process publish/subscribe hub for Events.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]func(Event))}
}

// Subscription is a registered handler. Release is idempotent.
type Subscription struct {
	once sync.Once
	bus  *Bus
	id   uint64
}

// Release unregisters the handler. Events published after Release returns
// are not delivered to it.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.handlers, s.id)
		s.bus.mu.Unlock()
	})
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = fn
	return &Subscription{bus: b, id: b.nextID}
}

// Subscribe registers fn for events of type T only.
func Subscribe[T Event](b *Bus, fn func(T)) *Subscription {
	return b.SubscribeAll(func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

// Publish delivers e to every handler, in subscription order, on the
// calling goroutine. A panicking handler is logged and does not stop
// delivery to the others.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, e)
	}
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("event", e.EventName()).Msg("Event handler panicked")
		}
	}()
	fn(e)
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
