// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package push

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/choresync/internal/credentials"
)

// ErrTransportUnavailable is returned by transports that are not compiled
// into this build. The listener does not retry it.
var ErrTransportUnavailable = errors.New("push transport not available in this build")

// Frame is one message on the push feed: {"type": "...", "data": {...}}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Conn is an established push connection.
type Conn interface {
	// Frames delivers frames in arrival order. It is closed when the
	// connection ends; Err then reports why.
	Frames() <-chan Frame

	// Err returns the error that ended the connection, or nil after Close.
	Err() error

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// Transport opens push connections for a session. Dial returning nil error
// is the acknowledgement that moves the listener to connected.
type Transport interface {
	Name() string
	Dial(ctx context.Context, cred credentials.Credential) (Conn, error)
}

// maxQueuedFrames caps the frames waiting for the consumer. A feed that
// outruns its handler by more than this ends the connection; the reconnect
// invalidates the whole cache, which covers every dropped frame.
const maxQueuedFrames = 1024

var errFrameOverflow = errors.New("push frames arriving faster than they are handled")

// frameQueue decouples the goroutine reading the wire from the consumer.
// The reader never blocks on a slow consumer, so keepalive traffic keeps
// being processed while event handlers run.
type frameQueue struct {
	mu     sync.Mutex
	buf    []Frame
	limit  int
	closed bool
	err    error
	signal chan struct{}
	out    chan Frame
	done   chan struct{}
	once   sync.Once
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{
		limit:  maxQueuedFrames,
		signal: make(chan struct{}, 1),
		out:    make(chan Frame),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// push appends f. It never blocks. Past the limit the queued frames are
// dropped and the queue ends with errFrameOverflow.
func (q *frameQueue) push(f Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.buf) >= q.limit {
		q.buf = nil
		q.closed = true
		q.err = errFrameOverflow
		q.mu.Unlock()
		q.wake()
		return
	}
	q.buf = append(q.buf, f)
	q.mu.Unlock()
	q.wake()
}

// finish marks the end of input; queued frames are still delivered.
func (q *frameQueue) finish(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	q.mu.Unlock()
	q.wake()
}

// abandon stops delivery immediately; used when the consumer closes.
func (q *frameQueue) abandon() {
	q.finish(nil)
	q.once.Do(func() { close(q.done) })
}

func (q *frameQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *frameQueue) error() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *frameQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		f := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()

		select {
		case q.out <- f:
		case <-q.done:
			return
		}
	}
}
