// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package querycache

import (
	"sort"
	"sync"
)

// NotificationKind says what happened to a key.
type NotificationKind int

const (
	// Updated means a load or local write stored a new value.
	Updated NotificationKind = iota
	// Invalidated means the entry was marked stale; its value is unchanged.
	Invalidated
	// Cleared means the entry was dropped (logout).
	Cleared
)

func (k NotificationKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Invalidated:
		return "invalidated"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Notification is delivered to subscribers of a key.
type Notification struct {
	Key   Key
	Kind  NotificationKind
	Value any // set for Updated
}

// Subscription is the handle returned by Subscribe. Release must be called
// when the subscriber goes away; it is safe to call more than once.
type Subscription struct {
	once    sync.Once
	release func()
}

// Release unregisters the subscriber.
func (s *Subscription) Release() {
	s.once.Do(s.release)
}

type subscriber struct {
	id uint64
	fn func(Notification)
}

type subscribers struct {
	mu     sync.RWMutex
	nextID uint64
	byKey  map[string]map[uint64]func(Notification)
}

func newSubscribers() *subscribers {
	return &subscribers{byKey: make(map[string]map[uint64]func(Notification))}
}

// Subscribe registers fn for notifications about exactly key.
func (c *Cache) Subscribe(key Key, fn func(Notification)) *Subscription {
	s := c.subs
	id := key.String()

	s.mu.Lock()
	s.nextID++
	subID := s.nextID
	if s.byKey[id] == nil {
		s.byKey[id] = make(map[uint64]func(Notification))
	}
	s.byKey[id][subID] = fn
	s.mu.Unlock()

	return &Subscription{release: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byKey[id], subID)
		if len(s.byKey[id]) == 0 {
			delete(s.byKey, id)
		}
	}}
}

// notify calls the subscribers of n.Key in registration order.
func (s *subscribers) notify(n Notification) {
	s.mu.RLock()
	set := s.byKey[n.Key.String()]
	list := make([]subscriber, 0, len(set))
	for id, fn := range set {
		list = append(list, subscriber{id: id, fn: fn})
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, sub := range list {
		sub.fn(n)
	}
}
