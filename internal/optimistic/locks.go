// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package optimistic

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/choresync/internal/querycache"
)

// keyLocks serializes mutations per cache key. Keys are always acquired in
// sorted order so overlapping key sets cannot deadlock.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until every key is held or ctx is done.
func (l *keyLocks) acquire(ctx context.Context, keys []querycache.Key) (func(), error) {
	ids := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		id := k.String()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	held := make([]string, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, id := range ids {
		lk := l.ref(id)
		select {
		case lk.ch <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			l.unref(id)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (l *keyLocks) ref(id string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	return lk
}

func (l *keyLocks) unref(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk := l.locks[id]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *keyLocks) unlock(id string) {
	l.mu.Lock()
	lk := l.locks[id]
	l.mu.Unlock()
	<-lk.ch
	l.unref(id)
}
