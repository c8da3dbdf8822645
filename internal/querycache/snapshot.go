// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package querycache

import "time"

// Snapshot is a point-in-time copy of an entry. Restore puts it back exactly,
// including "no entry" and "no value".
type Snapshot struct {
	Key         Key
	Exists      bool
	Value       any
	HasValue    bool
	FetchedAt   time.Time
	StaleAfter  time.Duration
	Status      Status
	RetryCount  int
	Err         error
	Invalidated bool
}

// Snapshot copies the entry for key. Value is copied by reference; callers
// that mutate cached values in place must not do so (write new values).
func (c *Cache) Snapshot(key Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return Snapshot{Key: key.clone()}
	}
	return Snapshot{
		Key:         e.key.clone(),
		Exists:      true,
		Value:       e.value,
		HasValue:    e.hasValue,
		FetchedAt:   e.fetchedAt,
		StaleAfter:  e.staleAfter,
		Status:      e.status,
		RetryCount:  e.retryCount,
		Err:         e.err,
		Invalidated: e.invalidated,
	}
}

// IsStale reports whether the snapshot would trigger a load at time now.
func (s Snapshot) IsStale(now time.Time) bool {
	if !s.HasValue || s.Invalidated || s.Status == StatusError {
		return true
	}
	return !now.Before(s.FetchedAt.Add(s.StaleAfter))
}

// Restore writes s back as a local write that supersedes in-flight loads.
// An invalidation that arrived after the snapshot was taken is preserved.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	e := c.getOrCreate(s.Key)
	c.nextSeq++
	e.seq = c.nextSeq
	if s.Exists {
		e.value = s.Value
		e.hasValue = s.HasValue
		e.fetchedAt = s.FetchedAt
		e.staleAfter = s.StaleAfter
		e.status = s.Status
		e.retryCount = s.RetryCount
		e.err = s.Err
		e.invalidated = e.invalidated || s.Invalidated
	} else {
		e.value = nil
		e.hasValue = false
		e.fetchedAt = time.Time{}
		e.status = StatusIdle
		e.retryCount = 0
		e.err = nil
	}
	value := e.value
	c.mu.Unlock()

	c.subs.notify(Notification{Key: s.Key.clone(), Kind: Updated, Value: value})
}
