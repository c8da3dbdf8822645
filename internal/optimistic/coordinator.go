// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package optimistic applies local cache changes before the server confirms
// them and rolls them back when it does not.
//
// Execute is the bare protocol:
//
//  1. OptimisticUpdate runs synchronously, before any network call.
//  2. APICall runs once. There is no retry.
//  3. On success SuccessMessage is shown and the optimistic state stays.
//  4. On failure Rollback runs synchronously and a failure is shown.
//
// Mutate is the cache-aware form used by the household repository: it
// snapshots the affected keys itself, restores them exactly on failure and
// serializes mutations that touch the same key.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/choresync/internal/apiclient"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/metrics"
	"github.com/tomtom215/choresync/internal/querycache"
)

// ErrNoCall is returned when an Op or Mutation has no server call.
var ErrNoCall = errors.New("mutation has no api call")

// Op is one optimistic mutation.
type Op struct {
	OptimisticUpdate func()
	APICall          func(ctx context.Context) (any, error)
	Rollback         func()
	SuccessMessage   string

	// FailureMessage overrides the message derived from the error.
	FailureMessage string
}

// Mutation is an optimistic mutation over a set of cache keys.
type Mutation struct {
	// Keys are snapshotted before Update and restored on failure.
	Keys []querycache.Key

	// Update applies the optimistic state. It runs with Keys held.
	Update func(c *querycache.Cache)

	// Call is the authoritative server mutation.
	Call func(ctx context.Context) (any, error)

	// Merge, when set, folds the server response into the cache after a
	// successful Call. It must not write a state older than the optimistic one.
	Merge func(c *querycache.Cache, result any)

	SuccessMessage string
	FailureMessage string
}

// Coordinator runs optimistic mutations against a cache.
type Coordinator struct {
	cache    *querycache.Cache
	notifier Notifier
	locks    *keyLocks
}

// New creates a coordinator. A nil notifier logs notifications.
func New(cache *querycache.Cache, notifier Notifier) *Coordinator {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Coordinator{
		cache:    cache,
		notifier: notifier,
		locks:    newKeyLocks(),
	}
}

// Execute runs op. Concurrent calls are independent of each other. The
// returned error wraps the APICall error.
func (c *Coordinator) Execute(ctx context.Context, op Op) (any, error) {
	if op.APICall == nil {
		return nil, ErrNoCall
	}

	id := uuid.NewString()
	ctx = logging.ContextWithMutationID(ctx, id)
	logger := logging.Ctx(ctx)
	start := time.Now()

	if op.OptimisticUpdate != nil {
		op.OptimisticUpdate()
	}
	logger.Debug().Msg("Optimistic update applied")

	result, err := op.APICall(ctx)
	if err != nil {
		if op.Rollback != nil {
			op.Rollback()
		}
		metrics.RecordMutation(false, time.Since(start))

		msg := op.FailureMessage
		if msg == "" {
			msg = apiclient.UserMessage(err)
		}
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Mutation rolled back")
		c.notifier.Notify(ctx, Notification{Kind: KindFailure, Message: msg, Err: err, MutationID: id})
		return nil, fmt.Errorf("mutation %s: %w", id, err)
	}

	metrics.RecordMutation(true, time.Since(start))
	logger.Debug().Dur("duration", time.Since(start)).Msg("Mutation committed")
	if op.SuccessMessage != "" {
		c.notifier.Notify(ctx, Notification{Kind: KindSuccess, Message: op.SuccessMessage, MutationID: id})
	}
	return result, nil
}

// Mutate runs m with its keys held. A mutation waiting for a key held by
// another one gives up when ctx is done, before touching the cache.
func (c *Coordinator) Mutate(ctx context.Context, m Mutation) (any, error) {
	if m.Call == nil {
		return nil, ErrNoCall
	}

	release, err := c.locks.acquire(ctx, m.Keys)
	if err != nil {
		return nil, fmt.Errorf("wait for pending mutation: %w", err)
	}
	defer release()

	snapshots := make([]querycache.Snapshot, 0, len(m.Keys))
	for _, k := range m.Keys {
		snapshots = append(snapshots, c.cache.Snapshot(k))
	}

	result, err := c.Execute(ctx, Op{
		OptimisticUpdate: func() {
			if m.Update != nil {
				m.Update(c.cache)
			}
		},
		APICall: m.Call,
		Rollback: func() {
			for i := len(snapshots) - 1; i >= 0; i-- {
				c.cache.Restore(snapshots[i])
			}
		},
		SuccessMessage: m.SuccessMessage,
		FailureMessage: m.FailureMessage,
	})
	if err != nil {
		return nil, err
	}

	if m.Merge != nil {
		m.Merge(c.cache, result)
	}
	return result, nil
}
