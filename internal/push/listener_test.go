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
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
	"github.com/tomtom215/choresync/internal/querycache"
)

// fakeConn is a Conn driven by the test.
type fakeConn struct {
	q *frameQueue
}

func newFakeConn() *fakeConn { return &fakeConn{q: newFrameQueue()} }

func (c *fakeConn) Frames() <-chan Frame { return c.q.out }
func (c *fakeConn) Err() error           { return c.q.error() }
func (c *fakeConn) Close() error         { c.q.abandon(); return nil }

func (c *fakeConn) send(typ, data string) {
	f := Frame{Type: typ}
	if data != "" {
		f.Data = []byte(data)
	}
	c.q.push(f)
}

// drop simulates a network failure.
func (c *fakeConn) drop() { c.q.finish(errors.New("connection reset by peer")) }

type fakeTransport struct {
	mu      sync.Mutex
	failing bool
	dials   int
	homes   []string
	conns   chan *fakeConn
	dialErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, cred credentials.Credential) (Conn, error) {
	t.mu.Lock()
	t.dials++
	t.homes = append(t.homes, cred.HouseholdID)
	failing, dialErr := t.failing, t.dialErr
	t.mu.Unlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if failing {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) setFailing(v bool) {
	t.mu.Lock()
	t.failing = v
	t.mu.Unlock()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) households() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.homes...)
}

func (t *fakeTransport) next(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.conns:
		return c
	case <-time.After(2 * time.Second):
		tb.Fatal("timed out waiting for dial")
		return nil
	}
}

type fakeCreds struct {
	mu   sync.Mutex
	cred *credentials.Credential
}

func (f *fakeCreds) Credential(context.Context) (credentials.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return credentials.Credential{}, credentials.ErrNoSession
	}
	return *f.cred, nil
}

func (f *fakeCreds) set(c *credentials.Credential) {
	f.mu.Lock()
	f.cred = c
	f.mu.Unlock()
}

func signedIn() *fakeCreds {
	return &fakeCreds{cred: &credentials.Credential{Token: "T", HouseholdID: "H1"}}
}

func testPushConfig() config.PushConfig {
	return config.PushConfig{
		Enabled:        true,
		Transport:      "fake",
		ConnectTimeout: time.Second,
		ReconnectDelay: 10 * time.Millisecond,
		MaxAttempts:    3,
	}
}

type harness struct {
	listener  *Listener
	transport *fakeTransport
	creds     *fakeCreds
	cache     *querycache.Cache
	bus       *events.Bus
	connected chan events.Connected
	lost      chan events.Disconnected
	updates   chan events.TaskUpdated
	done      chan error
}

func newHarness(t *testing.T, creds *fakeCreds) *harness {
	t.Helper()
	return newHarnessWithTransport(t, creds, newFakeTransport())
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// seed fetches key once through a counting loader and returns the counter.
func seed(t *testing.T, c *querycache.Cache, key querycache.Key) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	_, err := c.Fetch(context.Background(), key, func(context.Context) (any, error) {
		n := calls.Add(1)
		return fmt.Sprintf("%s#%d", key, n), nil
	})
	if err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
	return &calls
}

func TestListener_FirstConnectKeepsCache(t *testing.T) {
	h := newHarness(t, signedIn())
	h.transport.next(t)

	ev := recv(t, h.connected)
	if ev.Reconnect {
		t.Error("first connect reported as reconnect")
	}
	if got := h.listener.State(); got != StateConnected {
		t.Errorf("State() = %v, want connected", got)
	}
}

func TestListener_ReconnectInvalidatesEverything(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	keys := []querycache.Key{
		household.TasksKey(),
		household.MemberKey("m1"),
		household.HouseholdKey("H1"),
	}
	for _, k := range keys {
		seed(t, h.cache, k)
	}

	conn.drop()
	lost := recv(t, h.lost)
	if lost.Err == nil {
		t.Error("Disconnected.Err = nil for a network failure")
	}

	h.transport.next(t)
	ev := recv(t, h.connected)
	if !ev.Reconnect {
		t.Error("second connect not reported as reconnect")
	}

	for _, k := range keys {
		if !h.cache.Snapshot(k).Invalidated {
			t.Errorf("%s not invalidated after reconnect", k)
		}
	}
	if got := h.listener.Stats().Reconnects; got != 1 {
		t.Errorf("Stats().Reconnects = %d, want 1", got)
	}
}

func TestListener_TaskUpdateWithoutMemberUpdate(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	tasks := seed(t, h.cache, household.TasksKey())
	member := seed(t, h.cache, household.MemberKey("m1"))
	members := seed(t, h.cache, household.MembersKey())

	conn.send(events.NameTaskUpdated, `{"id":"t1","status":"Completed"}`)
	ev := recv(t, h.updates)
	if ev.Update.ID != "t1" || ev.Update.Status != "Completed" {
		t.Errorf("TaskUpdated = %+v", ev.Update)
	}

	if !h.cache.Snapshot(household.TasksKey()).Invalidated {
		t.Error("tasks not invalidated")
	}
	if h.cache.Snapshot(household.MemberKey("m1")).Invalidated {
		t.Error("member key touched without memberUpdate")
	}
	if h.cache.Snapshot(household.MembersKey()).Invalidated {
		t.Error("generic member key touched without memberUpdate")
	}
	if tasks.Load() != 1 || member.Load() != 1 || members.Load() != 1 {
		t.Errorf("loader calls = tasks %d member %d members %d, want 1 each",
			tasks.Load(), member.Load(), members.Load())
	}

	// next read goes to the network
	if _, err := h.cache.Fetch(context.Background(), household.TasksKey(), nil); err != nil {
		t.Fatalf("Fetch tasks: %v", err)
	}
	if tasks.Load() != 2 {
		t.Errorf("tasks loader calls = %d, want 2", tasks.Load())
	}
}

func TestListener_TaskUpdateWithMemberUpdateRefetches(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	tasks := seed(t, h.cache, household.TasksKey())
	member := seed(t, h.cache, household.MemberKey("m1"))
	members := seed(t, h.cache, household.MembersKey())
	other := seed(t, h.cache, household.MemberKey("m2"))

	conn.send(events.NameTaskUpdated, `{"id":"t1","memberUpdate":{"memberId":"m1","pointsTotal":42}}`)
	ev := recv(t, h.updates)
	if ev.Update.MemberUpdate == nil || ev.Update.MemberUpdate.PointsTotal != 42 {
		t.Fatalf("MemberUpdate = %+v", ev.Update.MemberUpdate)
	}

	if member.Load() != 2 {
		t.Errorf("member loader calls = %d, want 2", member.Load())
	}
	if members.Load() != 2 {
		t.Errorf("generic member loader calls = %d, want 2", members.Load())
	}
	if other.Load() != 1 {
		t.Errorf("other member refetched: calls = %d", other.Load())
	}
	if tasks.Load() != 1 {
		t.Errorf("tasks refetched eagerly: calls = %d", tasks.Load())
	}
	if !h.cache.Snapshot(household.TasksKey()).Invalidated {
		t.Error("tasks not invalidated")
	}
	if v, _ := h.cache.GetData(household.MemberKey("m1")); v != `["member","m1"]#2` {
		t.Errorf("member value = %v", v)
	}
}

func TestListener_DuplicateEventIsIdempotent(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	seed(t, h.cache, household.TasksKey())
	member := seed(t, h.cache, household.MemberKey("m1"))

	payload := `{"id":"t1","memberUpdate":{"memberId":"m1","pointsTotal":5}}`
	conn.send(events.NameTaskUpdated, payload)
	conn.send(events.NameTaskUpdated, payload)
	recv(t, h.updates)
	recv(t, h.updates)

	if member.Load() != 3 {
		t.Errorf("member loader calls = %d, want 3", member.Load())
	}
	v, _ := h.cache.GetData(household.MemberKey("m1"))
	if v != `["member","m1"]#3` {
		t.Errorf("member value = %v", v)
	}
	if got := h.listener.State(); got != StateConnected {
		t.Errorf("State() = %v after duplicates", got)
	}
}

func TestListener_InvalidMemberUpdateStillInvalidatesTasks(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	seed(t, h.cache, household.TasksKey())
	member := seed(t, h.cache, household.MemberKey("m1"))

	conn.send(events.NameTaskUpdated, `{"id":"t1","memberUpdate":{"pointsTotal":-3}}`)
	ev := recv(t, h.updates)
	if ev.Update.MemberUpdate != nil {
		t.Errorf("invalid memberUpdate kept: %+v", ev.Update.MemberUpdate)
	}
	if !h.cache.Snapshot(household.TasksKey()).Invalidated {
		t.Error("tasks not invalidated")
	}
	if member.Load() != 1 {
		t.Errorf("member refetched for invalid update: calls = %d", member.Load())
	}
}

func TestListener_MistypedTaskUpdateInvalidatesWithoutEvent(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	seed(t, h.cache, household.TasksKey())

	conn.send(events.NameTaskUpdated, `{"id":123,"status":"Completed"}`)
	waitFor(t, func() bool { return h.cache.Snapshot(household.TasksKey()).Invalidated }, "tasks invalidated")
	select {
	case ev := <-h.updates:
		t.Errorf("event published for a mistyped payload: %+v", ev.Update)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestListener_HandlesFramesInOrder(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	const n = 50
	for i := 0; i < n; i++ {
		conn.send("somethingElse", `{}`)
		conn.send(events.NameTaskUpdated, fmt.Sprintf(`{"id":"t%d"}`, i))
	}
	for i := 0; i < n; i++ {
		ev := recv(t, h.updates)
		if want := fmt.Sprintf("t%d", i); ev.Update.ID != want {
			t.Fatalf("event %d has id %q, want %q", i, ev.Update.ID, want)
		}
	}
	waitFor(t, func() bool { return h.listener.Stats().EventsHandled == n }, "handled count")
}

func TestListener_ServerDisconnectFrameReconnects(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	conn.send(events.NameDisconnect, "")
	lost := recv(t, h.lost)
	if !errors.Is(lost.Err, errServerClosed) {
		t.Errorf("Disconnected.Err = %v, want errServerClosed", lost.Err)
	}

	h.transport.next(t)
	if ev := recv(t, h.connected); !ev.Reconnect {
		t.Error("connect after server disconnect not reported as reconnect")
	}
}

func TestListener_ExhaustionWaitsForManualReconnect(t *testing.T) {
	transport := newFakeTransport()
	transport.setFailing(true)
	h := newHarnessWithTransport(t, signedIn(), transport)

	waitFor(t, func() bool { return h.listener.Stats().Exhaustions == 1 }, "exhaustion")
	if got := transport.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if got := h.listener.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}

	// no further attempts without a trigger
	time.Sleep(50 * time.Millisecond)
	if got := transport.dialCount(); got != 3 {
		t.Errorf("dials after exhaustion = %d, want 3", got)
	}

	transport.setFailing(false)
	h.listener.Reconnect()
	transport.next(t)
	if ev := recv(t, h.connected); ev.Reconnect {
		t.Error("first successful connect reported as reconnect")
	}
}

func TestListener_ReconnectCycleIsBounded(t *testing.T) {
	h := newHarness(t, signedIn())
	conn := h.transport.next(t)
	recv(t, h.connected)

	h.transport.setFailing(true)
	before := h.transport.dialCount()
	conn.drop()
	recv(t, h.lost)

	waitFor(t, func() bool { return h.listener.Stats().Exhaustions == 1 }, "exhaustion")
	if got := h.transport.dialCount() - before; got != 3 {
		t.Errorf("reconnect dials = %d, want 3", got)
	}

	h.transport.setFailing(false)
	h.listener.Reconnect()
	h.transport.next(t)
	if ev := recv(t, h.connected); !ev.Reconnect {
		t.Error("connect after exhaustion not reported as reconnect")
	}
}

func TestListener_NoSessionIdles(t *testing.T) {
	creds := &fakeCreds{}
	h := newHarness(t, creds)

	waitFor(t, func() bool { return h.listener.Stats().LastError != "" }, "no-session error")
	if got := h.transport.dialCount(); got != 0 {
		t.Errorf("dials without session = %d, want 0", got)
	}
	if got := h.listener.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}

	creds.set(&credentials.Credential{Token: "T", HouseholdID: "H1"})
	h.listener.Reconnect()
	h.transport.next(t)
	recv(t, h.connected)
}

func TestListener_TransportUnavailableIsNotRetried(t *testing.T) {
	transport := newFakeTransport()
	transport.dialErr = fmt.Errorf("nats: %w", ErrTransportUnavailable)
	h := newHarnessWithTransport(t, signedIn(), transport)

	waitFor(t, func() bool { return h.listener.Stats().LastError != "" }, "transport error")
	time.Sleep(30 * time.Millisecond)
	if got := transport.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := h.listener.Stats().Exhaustions; got != 0 {
		t.Errorf("Exhaustions = %d, want 0", got)
	}
}

func TestListener_SuspendAndResume(t *testing.T) {
	h := newHarness(t, signedIn())
	h.transport.next(t)
	recv(t, h.connected)

	seed(t, h.cache, household.TasksKey())

	h.listener.Suspend()
	lost := recv(t, h.lost)
	if lost.Err != nil {
		t.Errorf("Disconnected.Err = %v for explicit close", lost.Err)
	}
	waitFor(t, func() bool { return h.listener.State() == StateDisconnected }, "disconnected")

	time.Sleep(30 * time.Millisecond)
	if got := h.transport.dialCount(); got != 1 {
		t.Errorf("dials while suspended = %d, want 1", got)
	}

	h.listener.Reconnect()
	h.transport.next(t)
	if ev := recv(t, h.connected); ev.Reconnect {
		t.Error("connect after suspend reported as reconnect")
	}
	if h.cache.Snapshot(household.TasksKey()).Invalidated {
		t.Error("cache invalidated on first connect of a new session")
	}
}

func TestListener_SessionSwitchRedials(t *testing.T) {
	h := newHarness(t, signedIn())
	first := h.transport.next(t)
	recv(t, h.connected)

	// no pause between suspend and resume, as on a second sign-in
	h.listener.Suspend()
	h.creds.set(&credentials.Credential{Token: "T2", HouseholdID: "H2"})
	h.listener.Reconnect()

	h.transport.next(t)
	if ev := recv(t, h.connected); ev.Reconnect {
		t.Error("connect for a new session reported as reconnect")
	}
	if lost := recv(t, h.lost); lost.Err != nil {
		t.Errorf("Disconnected.Err = %v for a session switch", lost.Err)
	}

	got := h.transport.households()
	if len(got) != 2 || got[0] != "H1" || got[1] != "H2" {
		t.Errorf("dialed households = %v, want [H1 H2]", got)
	}
	if s := h.listener.Stats(); s.Reconnects != 0 {
		t.Errorf("Stats().Reconnects = %d, want 0", s.Reconnects)
	}

	// frames on the old connection are no longer read
	first.send(events.NameTaskUpdated, `{"id":"t1"}`)
	select {
	case ev := <-h.updates:
		t.Errorf("event from the previous session handled: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestListener_ServeReturnsOnCancel(t *testing.T) {
	transport := newFakeTransport()
	l := New(transport, signedIn(), querycache.New(config.CacheConfig{}), nil, testPushConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	transport.next(t)
	waitFor(t, func() bool { return l.State() == StateConnected }, "connected")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if got := l.State(); got != StateDisconnected {
		t.Errorf("State() = %v after shutdown", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		State(99):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func newHarnessWithTransport(t *testing.T, creds *fakeCreds, transport *fakeTransport) *harness {
	t.Helper()
	h := &harness{
		transport: transport,
		creds:     creds,
		cache:     querycache.New(config.CacheConfig{StaleAfter: time.Minute}),
		bus:       events.NewBus(),
		connected: make(chan events.Connected, 16),
		lost:      make(chan events.Disconnected, 16),
		updates:   make(chan events.TaskUpdated, 128),
		done:      make(chan error, 1),
	}
	events.Subscribe(h.bus, func(e events.Connected) { h.connected <- e })
	events.Subscribe(h.bus, func(e events.Disconnected) { h.lost <- e })
	events.Subscribe(h.bus, func(e events.TaskUpdated) { h.updates <- e })

	h.listener = New(h.transport, h.creds, h.cache, h.bus, testPushConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.listener.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return h
}
