// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/metrics"
)

// Loader loads the value for one key, usually through the HTTP client.
type Loader func(ctx context.Context) (any, error)

// Status is the load status of an entry.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNoLoader is returned when an entry has to be loaded but no loader was
// ever registered for it (the entry only received local writes).
var ErrNoLoader = errors.New("no loader registered for key")

// ErrCleared is returned to a caller whose fetch or refetch was still waiting
// for a load when Clear dropped the cache.
var ErrCleared = errors.New("cache cleared during load")

// entry is one cached key. All fields are guarded by Cache.mu.
type entry struct {
	key        Key
	value      any
	hasValue   bool
	fetchedAt  time.Time
	staleAfter time.Duration
	status     Status
	retryCount int
	err        error
	loader     Loader

	// invalidated is set by Invalidate/Refetch and cleared by a load that
	// started after the most recent invalidation.
	invalidated bool

	// gen counts invalidation and refetch requests. A load records the gen
	// it started under so callers can refuse results that predate their request.
	gen uint64

	// seq is the sequence number of the last applied write. A load whose
	// sequence number is lower completed out of order and is discarded.
	seq uint64
}

type loadResult struct {
	value any
	err   error
	gen   uint64
}

// Cache is the keyed query cache shared by every screen-facing component.
//
// Semantics:
//   - Fetch returns a live entry without loading; otherwise it runs, or joins,
//     the single in-flight load for the key (singleflight).
//   - A failed load is retried RetryCount times with a constant delay before
//     the error is surfaced; the previous value stays in place.
//   - Loads and local writes carry monotonic sequence numbers; an older load
//     completing after a newer write is discarded.
//   - Subscribers of a key are notified after every applied write and every
//     invalidation of that exact key.
//
// Thread Safety: all methods are safe for concurrent use. Notifications are
// delivered synchronously on the goroutine that caused them, after the
// cache lock is released.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
	epoch   uint64 // bumped by Clear so in-flight loads from before are not joined

	group singleflight.Group

	staleAfter time.Duration
	retryCount int
	retryDelay time.Duration
	now        func() time.Time

	subs *subscribers
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(cfg config.CacheConfig, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		staleAfter: cfg.StaleAfter,
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
		subs:       newSubscribers(),
	}
	if c.staleAfter <= 0 {
		c.staleAfter = 60 * time.Second
	}
	if c.retryCount < 0 {
		c.retryCount = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchOption configures a single Fetch.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	staleAfter time.Duration
}

// WithStaleAfter overrides the freshness window for this key.
func WithStaleAfter(d time.Duration) FetchOption {
	return func(o *fetchOptions) { o.staleAfter = d }
}

// getOrCreate must be called with c.mu held.
func (c *Cache) getOrCreate(key Key) *entry {
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: key.clone(), staleAfter: c.staleAfter}
		c.entries[id] = e
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return e
}

// isLive must be called with c.mu held.
func (c *Cache) isLive(e *entry) bool {
	if !e.hasValue || e.invalidated || e.status == StatusError {
		return false
	}
	return c.now().Before(e.fetchedAt.Add(e.staleAfter))
}

// Fetch returns the value for key, loading it with loader when the entry is
// missing, stale, invalidated or in error. Concurrent fetches of the same key
// share one load. The loader is remembered for Refetch.
//
// When the load fails the error is returned together with the last known
// value (nil if there is none), so callers can keep showing stale data.
//
// Cancelling ctx stops waiting; the shared load itself runs to completion so
// other waiters and the cache still receive its result.
func (c *Cache) Fetch(ctx context.Context, key Key, loader Loader, opts ...FetchOption) (any, error) {
	o := fetchOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	e := c.getOrCreate(key)
	if loader != nil {
		e.loader = loader
	}
	if o.staleAfter > 0 {
		e.staleAfter = o.staleAfter
	}
	if c.isLive(e) {
		v := e.value
		c.mu.Unlock()
		metrics.CacheHits.Inc()
		return v, nil
	}
	wantGen := e.gen
	epoch := c.epoch
	c.mu.Unlock()

	metrics.CacheMisses.Inc()
	return c.load(ctx, key, wantGen, epoch)
}

// FetchAs is Fetch with a typed loader and result.
func FetchAs[T any](ctx context.Context, c *Cache, key Key, loader func(ctx context.Context) (T, error), opts ...FetchOption) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	}, opts...)
	if v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		if err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("cache entry %s holds %T, not %T", key, v, zero)
	}
	return t, err
}

// load runs or joins the load for key and waits for a result that started
// no earlier than wantGen. It gives up with ErrCleared once the cache has
// moved past epoch.
func (c *Cache) load(ctx context.Context, key Key, wantGen, epoch uint64) (any, error) {
	flightKey := strconv.FormatUint(epoch, 10) + "|" + key.String()
	for {
		c.mu.Lock()
		cleared := c.epoch != epoch
		c.mu.Unlock()
		if cleared {
			return nil, fmt.Errorf("load %s: %w", key, ErrCleared)
		}

		ch := c.group.DoChan(flightKey, func() (any, error) {
			return c.runLoad(context.WithoutCancel(ctx), key, epoch), nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			lr, _ := res.Val.(*loadResult)
			if lr == nil {
				return nil, fmt.Errorf("load %s: %w", key, res.Err)
			}
			if errors.Is(lr.err, ErrCleared) {
				return nil, lr.err
			}
			if lr.gen < wantGen && !errors.Is(lr.err, ErrNoLoader) {
				// joined a load that started before our invalidation
				continue
			}
			return lr.value, lr.err
		}
	}
}

// runLoad executes one load, with retries, and applies its result.
func (c *Cache) runLoad(ctx context.Context, key Key, epoch uint64) *loadResult {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return &loadResult{err: fmt.Errorf("load %s: %w", key, ErrCleared)}
	}
	e := c.getOrCreate(key)
	loader := e.loader
	gen := e.gen
	c.nextSeq++
	seq := c.nextSeq
	if loader == nil {
		v := e.value
		c.mu.Unlock()
		return &loadResult{value: v, err: fmt.Errorf("load %s: %w", key, ErrNoLoader), gen: gen}
	}
	e.status = StatusFetching
	c.mu.Unlock()

	start := time.Now()
	value, err := backoff.Retry(ctx, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			c.mu.Lock()
			e.retryCount++
			c.mu.Unlock()
			return nil, err
		}
		return v, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(c.retryCount+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			logging.Debug().Str("key", key.String()).Err(err).Dur("retry_in", d).Msg("Cache load failed, retrying")
		}),
	)

	c.mu.Lock()
	if err != nil {
		if seq > e.seq {
			e.status = StatusError
			e.err = err
		}
		stale := e.value
		c.mu.Unlock()

		metrics.RecordCacheLoad("error", time.Since(start))
		logging.Warn().Str("key", key.String()).Err(err).Msg("Cache load failed")
		return &loadResult{value: stale, err: err, gen: gen}
	}

	if seq < e.seq {
		// a newer local write landed while this load was in flight
		current := e.value
		if e.status == StatusFetching {
			e.status = StatusSuccess
		}
		c.mu.Unlock()

		metrics.RecordCacheLoad("discarded", time.Since(start))
		logging.Debug().Str("key", key.String()).Msg("Discarded out-of-order cache load")
		return &loadResult{value: current, gen: gen}
	}

	e.seq = seq
	e.value = value
	e.hasValue = true
	e.fetchedAt = c.now()
	e.status = StatusSuccess
	e.err = nil
	e.retryCount = 0
	e.invalidated = e.gen > gen
	c.mu.Unlock()

	metrics.RecordCacheLoad("success", time.Since(start))
	c.subs.notify(Notification{Key: key.clone(), Kind: Updated, Value: value})
	return &loadResult{value: value, gen: gen}
}

// Invalidate marks every entry whose key starts with prefix as stale. Values
// are kept so they can still be displayed. It returns the number of entries
// marked.
func (c *Cache) Invalidate(prefix Key) int {
	return c.invalidate(func(k Key) bool { return k.HasPrefix(prefix) })
}

// InvalidateAll marks every entry stale.
func (c *Cache) InvalidateAll() int {
	return c.invalidate(func(Key) bool { return true })
}

func (c *Cache) invalidate(match func(Key) bool) int {
	c.mu.Lock()
	var keys []Key
	for _, e := range c.entries {
		if !match(e.key) {
			continue
		}
		e.invalidated = true
		e.gen++
		keys = append(keys, e.key.clone())
	}
	c.mu.Unlock()

	metrics.CacheInvalidations.Add(float64(len(keys)))
	for _, k := range keys {
		c.subs.notify(Notification{Key: k, Kind: Invalidated})
	}
	return len(keys)
}

// Refetch re-runs the remembered loader of every entry whose key starts with
// prefix, regardless of staleness, concurrently across keys. It never reuses
// a load that started before the call. Failures keep the previous value and
// set StatusError; the first error is returned.
func (c *Cache) Refetch(ctx context.Context, prefix Key) error {
	return c.refetch(ctx, func(k Key) bool { return k.HasPrefix(prefix) })
}

// RefetchExact is Refetch for exactly one key.
func (c *Cache) RefetchExact(ctx context.Context, key Key) error {
	return c.refetch(ctx, func(k Key) bool { return k.Equal(key) })
}

func (c *Cache) refetch(ctx context.Context, match func(Key) bool) error {
	type target struct {
		key Key
		gen uint64
	}

	c.mu.Lock()
	epoch := c.epoch
	var targets []target
	for _, e := range c.entries {
		if !match(e.key) || e.loader == nil {
			continue
		}
		e.invalidated = true
		e.gen++
		targets = append(targets, target{key: e.key.clone(), gen: e.gen})
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			_, err := c.load(ctx, t.key, t.gen, epoch)
			return err
		})
	}
	return g.Wait()
}

// GetData returns the current value for key without loading.
func (c *Cache) GetData(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || !e.hasValue {
		return nil, false
	}
	return e.value, true
}

// SetData writes value for key as a local write: it counts as fresh data,
// supersedes any load still in flight and notifies subscribers.
func (c *Cache) SetData(key Key, value any) {
	c.UpdateData(key, func(any, bool) any { return value })
}

// UpdateData applies fn to the current value under the cache lock and stores
// the result as a local write. fn must not call back into the cache.
func (c *Cache) UpdateData(key Key, fn func(old any, ok bool) any) any {
	c.mu.Lock()
	e := c.getOrCreate(key)
	value := fn(e.value, e.hasValue)
	c.nextSeq++
	e.seq = c.nextSeq
	e.value = value
	e.hasValue = true
	e.fetchedAt = c.now()
	e.status = StatusSuccess
	e.err = nil
	c.mu.Unlock()

	c.subs.notify(Notification{Key: key.clone(), Kind: Updated, Value: value})
	return value
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the keys of all entries, in no particular order.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key.clone())
	}
	return keys
}

// Clear drops every entry. Loads still in flight complete into the dropped
// entries and are never visible again; callers still waiting on them that
// need a newer result get ErrCleared. Subscriptions stay registered.
func (c *Cache) Clear() {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	c.entries = make(map[string]*entry)
	c.epoch++
	c.mu.Unlock()

	metrics.CacheEntries.Set(0)
	for _, k := range keys {
		c.subs.notify(Notification{Key: k, Kind: Cleared})
	}
}
