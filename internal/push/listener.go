// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/metrics"
	"github.com/tomtom215/choresync/internal/querycache"
)

// State is the connection state of a Listener.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// errServerClosed ends a connection on a server "disconnect" frame.
var errServerClosed = errors.New("push feed closed by server")

// Cache is the part of the query cache the listener drives.
type Cache interface {
	Invalidate(prefix querycache.Key) int
	InvalidateAll() int
	RefetchExact(ctx context.Context, key querycache.Key) error
}

// CredentialSource supplies the session used to open the feed.
type CredentialSource interface {
	Credential(ctx context.Context) (credentials.Credential, error)
}

// Stats is a point-in-time view of listener activity.
type Stats struct {
	State           State
	ConnectAttempts uint64
	Connects        uint64
	Reconnects      uint64
	Exhaustions     uint64
	EventsHandled   uint64
	LastError       string
	ConnectedAt     time.Time
}

// Listener keeps one long-lived push connection open and turns feed events
// into cache invalidations.
//
// Lifecycle:
//
//	disconnected -> connecting -> connected -> reconnecting -> connecting ...
//
// A lost connection is retried up to MaxAttempts times, ReconnectDelay
// apart, each dial bounded by ConnectTimeout. When a cycle is exhausted the
// listener stays disconnected until Reconnect is called. Every connect after
// the first one of a session invalidates the whole cache.
//
// Frames are handled one at a time in arrival order. Serve implements
// suture.Service.
type Listener struct {
	transport Transport
	creds     CredentialSource
	cache     Cache
	bus       *events.Bus
	cfg       config.PushConfig

	kick chan struct{}

	mu            sync.Mutex
	state         State
	conn          Conn
	cancelCycle   context.CancelFunc
	suspended     bool
	closing       bool // the running cycle was ended by Suspend
	everConnected bool
	stats         Stats
}

// New creates a listener. Serve must be running for it to connect.
func New(transport Transport, creds CredentialSource, cache Cache, bus *events.Bus, cfg config.PushConfig) *Listener {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Listener{
		transport: transport,
		creds:     creds,
		cache:     cache,
		bus:       bus,
		cfg:       cfg,
		kick:      make(chan struct{}, 1),
	}
}

// String implements fmt.Stringer for supervisor logging.
func (l *Listener) String() string { return "push-listener" }

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a copy of the activity counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.State = l.state
	return s
}

// Reconnect requests a fresh connect cycle if the listener is idle, and
// resumes a suspended listener. It does nothing while a cycle is running
// or a connection is up; switching sessions is Suspend, then Reconnect.
func (l *Listener) Reconnect() {
	l.mu.Lock()
	l.suspended = false
	l.mu.Unlock()

	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Suspend closes the connection and keeps the listener idle until
// Reconnect. The next connection is treated as a first connect.
func (l *Listener) Suspend() {
	l.mu.Lock()
	l.suspended = true
	l.everConnected = false
	cancel := l.cancelCycle
	if cancel != nil {
		l.closing = true
	}
	conn := l.conn
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Serve runs connect cycles until ctx is canceled.
func (l *Listener) Serve(ctx context.Context) error {
	logger := logging.WithComponent("push")
	defer l.setState(StateDisconnected)

	reconnect := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cycleCtx, cancel := context.WithCancel(ctx)
		if !l.beginCycle(cancel) {
			cancel()
			reconnect = false
			if err := l.waitKick(ctx); err != nil {
				return err
			}
			continue
		}

		conn, err := l.connect(cycleCtx, reconnect)
		if err != nil {
			interrupted := cycleCtx.Err() != nil
			cancel()
			l.endCycle()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reconnect = false
			if interrupted {
				// suspended mid-cycle
				continue
			}

			l.setState(StateDisconnected)
			l.recordError(err)
			switch {
			case errors.Is(err, credentials.ErrNoSession):
				logger.Info().Msg("No session, push listener idle")
			case errors.Is(err, ErrTransportUnavailable):
				logger.Warn().Err(err).Str("transport", l.transport.Name()).Msg("Push transport unavailable")
			default:
				l.mu.Lock()
				l.stats.Exhaustions++
				l.mu.Unlock()
				metrics.PushExhausted.Inc()
				logger.Warn().Err(err).Int("attempts", l.cfg.MaxAttempts).
					Msg("Push reconnect attempts exhausted, waiting for manual reconnect")
			}
			if err := l.waitKick(ctx); err != nil {
				return err
			}
			continue
		}

		l.onConnected(conn)
		err = l.consume(cycleCtx, conn)
		cancel()
		_ = conn.Close()
		explicit := l.onClosed(ctx, conn, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reconnect = !explicit
	}
}

// beginCycle registers cancel for Suspend. It reports false when suspended.
func (l *Listener) beginCycle(cancel context.CancelFunc) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.suspended {
		l.setStateLocked(StateDisconnected)
		return false
	}
	l.cancelCycle = cancel
	l.closing = false
	// a request made before this cycle started is satisfied by it
	select {
	case <-l.kick:
	default:
	}
	return true
}

func (l *Listener) endCycle() {
	l.mu.Lock()
	l.cancelCycle = nil
	l.mu.Unlock()
}

func (l *Listener) waitKick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.kick:
		return nil
	}
}

// connect runs one connect cycle. A reconnect cycle waits the reconnect
// delay before its first attempt.
func (l *Listener) connect(ctx context.Context, reconnect bool) (Conn, error) {
	logger := logging.WithComponent("push")

	if reconnect {
		l.setState(StateReconnecting)
		timer := time.NewTimer(l.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	attempt := 0
	return backoff.Retry(ctx, func() (Conn, error) {
		attempt++
		l.setState(StateConnecting)

		cred, err := l.creds.Credential(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		dialCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
		defer cancel()

		l.mu.Lock()
		l.stats.ConnectAttempts++
		l.mu.Unlock()

		conn, err := l.transport.Dial(dialCtx, cred)
		metrics.RecordConnectAttempt(err)
		if err != nil {
			if errors.Is(err, ErrTransportUnavailable) || ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, fmt.Errorf("connect attempt %d: %w", attempt, err)
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(l.cfg.ReconnectDelay)),
		backoff.WithMaxTries(uint(l.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			l.setState(StateReconnecting)
			logger.Debug().Err(err).Dur("retry_in", d).Msg("Push connect failed, retrying")
		}),
	)
}

func (l *Listener) onConnected(conn Conn) {
	l.mu.Lock()
	reconnect := l.everConnected
	l.everConnected = true
	l.conn = conn
	l.stats.Connects++
	l.stats.ConnectedAt = time.Now()
	if reconnect {
		l.stats.Reconnects++
	}
	l.setStateLocked(StateConnected)
	l.mu.Unlock()

	logger := logging.WithComponent("push")
	if reconnect {
		n := l.cache.InvalidateAll()
		metrics.PushReconnects.Inc()
		logger.Info().Str("transport", l.transport.Name()).Int("invalidated", n).Msg("Push feed reconnected")
	} else {
		logger.Info().Str("transport", l.transport.Name()).Msg("Push feed connected")
	}

	if l.bus != nil {
		l.bus.Publish(events.Connected{Reconnect: reconnect})
	}
}

// onClosed records the end of a connection and reports whether it was
// closed on purpose (Suspend or shutdown).
func (l *Listener) onClosed(parent context.Context, conn Conn, err error) bool {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.cancelCycle = nil
	explicit := l.suspended || l.closing || parent.Err() != nil
	if explicit {
		l.setStateLocked(StateDisconnected)
	} else {
		l.setStateLocked(StateReconnecting)
	}
	l.mu.Unlock()

	logger := logging.WithComponent("push")
	var published error
	if !explicit {
		if err == nil {
			err = errServerClosed
		}
		published = err
		l.recordError(err)
		logger.Warn().Err(err).Msg("Push connection lost")
	} else {
		logger.Info().Msg("Push connection closed")
	}

	if l.bus != nil {
		l.bus.Publish(events.Disconnected{Err: published})
	}
	return explicit
}

// consume handles frames until the connection ends or ctx is canceled.
func (l *Listener) consume(ctx context.Context, conn Conn) error {
	frames := conn.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return conn.Err()
			}
			if err := l.handleFrame(ctx, f); err != nil {
				return err
			}
		}
	}
}

// handleFrame applies one feed frame. A non-nil error ends the connection.
func (l *Listener) handleFrame(ctx context.Context, f Frame) error {
	logger := logging.WithComponent("push")
	metrics.PushEvents.WithLabelValues(f.Type).Inc()

	switch f.Type {
	case events.NameTaskUpdated:
		l.handleTaskUpdated(ctx, f)
	case events.NameDisconnect:
		return errServerClosed
	case events.NameConnect:
		logger.Debug().Msg("Push feed handshake")
	default:
		logger.Debug().Str("type", f.Type).Msg("Ignoring unknown push event")
		return nil
	}

	l.mu.Lock()
	l.stats.EventsHandled++
	l.mu.Unlock()
	return nil
}

func (l *Listener) handleTaskUpdated(ctx context.Context, f Frame) {
	logger := logging.WithComponent("push")

	update, memberErr, err := events.ParseTaskUpdate(f.Data)
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed task update, invalidating tasks")
	}
	if memberErr != nil {
		logger.Warn().Err(memberErr).Str("task_id", update.ID).Msg("Ignoring invalid member update")
	}

	l.cache.Invalidate(household.TasksKey())

	if mu := update.MemberUpdate; mu != nil {
		var g errgroup.Group
		for _, key := range []querycache.Key{household.MemberKey(mu.MemberID), household.MembersKey()} {
			g.Go(func() error {
				return l.cache.RefetchExact(ctx, key)
			})
		}
		if err := g.Wait(); err != nil {
			logger.Warn().Err(err).Str("member_id", mu.MemberID).Msg("Member refetch failed")
		}
	}

	if err == nil && l.bus != nil {
		l.bus.Publish(events.TaskUpdated{Update: update})
	}
}

func (l *Listener) recordError(err error) {
	l.mu.Lock()
	l.stats.LastError = err.Error()
	l.mu.Unlock()
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.setStateLocked(s)
	l.mu.Unlock()
}

func (l *Listener) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	metrics.PushState.Set(float64(s))
}
