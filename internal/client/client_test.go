// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/choresync/internal/apiclient"
	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/gatewaysim"
	"github.com/tomtom215/choresync/internal/household"
	"github.com/tomtom215/choresync/internal/optimistic"
	"github.com/tomtom215/choresync/internal/push"
)

type env struct {
	sim     *gatewaysim.Simulator
	client  *Client
	notices chan optimistic.Notification

	mu      sync.Mutex
	hits    map[string]int
	sockets []string
	putGate chan struct{}
}

// gateway records every request and holds PUTs while a gate is set.
func (e *env) gateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.hits[r.Method+" "+r.URL.Path]++
		if r.URL.Path == "/socket" {
			e.sockets = append(e.sockets, r.URL.Query().Get("householdId"))
		}
		gate := e.putGate
		e.mu.Unlock()

		if gate != nil && r.Method == http.MethodPut {
			<-gate
		}
		next.ServeHTTP(w, r)
	})
}

func (e *env) count(call string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits[call]
}

// lastSocket returns the household of the most recent feed request.
func (e *env) lastSocket() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sockets) == 0 {
		return ""
	}
	return e.sockets[len(e.sockets)-1]
}

func (e *env) holdPuts() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.putGate = make(chan struct{})
	return e.putGate
}

func newEnv(t *testing.T) *env {
	t.Helper()

	sim, err := gatewaysim.New(config.SimulatorConfig{HouseholdID: "H1", TokenTTL: time.Hour}, gatewaysim.NewStore("H1"))
	if err != nil {
		t.Fatalf("gatewaysim.New() error = %v", err)
	}
	simCtx, stopSim := context.WithCancel(context.Background())
	simDone := make(chan struct{})
	go func() {
		_ = sim.Serve(simCtx)
		close(simDone)
	}()
	e := &env{sim: sim, hits: make(map[string]int)}
	srv := httptest.NewServer(e.gateway(sim.Router()))

	cfg := config.Default()
	cfg.Gateway.URL = srv.URL
	cfg.Credentials = config.CredentialsConfig{InMemory: true}
	cfg.Push.ReconnectDelay = 10 * time.Millisecond
	cfg.Push.MaxAttempts = 3
	cfg.Push.ConnectTimeout = 2 * time.Second
	cfg.Supervisor.ShutdownTimeout = 2 * time.Second

	e.notices = make(chan optimistic.Notification, 16)
	notices := e.notices
	c, err := New(cfg, WithNotifier(optimistic.NotifierFunc(func(_ context.Context, n optimistic.Notification) {
		notices <- n
	})))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	t.Cleanup(func() {
		if err := c.Dispose(); err != nil {
			t.Errorf("Dispose() error = %v", err)
		}
		stopSim()
		<-simDone
		srv.Close()
	})
	e.client = c
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func (e *env) login(t *testing.T) {
	t.Helper()
	if err := e.client.Login(context.Background(), "H1", "p1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	waitFor(t, "push connection", func() bool {
		return e.client.Listener().State() == push.StateConnected
	})
}

func cachedTasks(e *env) []household.Task {
	v, ok := e.client.Cache().GetData(household.TasksKey())
	if !ok {
		return nil
	}
	return v.([]household.Task)
}

func findTask(tasks []household.Task, id string) household.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return household.Task{}
}

func TestClient_ListenerIdleWithoutSession(t *testing.T) {
	e := newEnv(t)

	waitFor(t, "idle listener", func() bool {
		stats := e.client.Listener().Stats()
		return stats.State == push.StateDisconnected && strings.Contains(stats.LastError, "no session")
	})

	_, err := e.client.Household().Tasks(context.Background())
	if apiclient.StatusCode(err) != 401 {
		t.Errorf("Tasks() without session error = %v, want 401", err)
	}
}

func TestClient_LoginFetchInvalidateApprove(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	repo := e.client.Household()

	cred, err := e.client.Credentials().Credential(ctx)
	if err != nil || cred.Token == "" || cred.HouseholdID != "H1" {
		t.Fatalf("stored session = %+v, %v", cred, err)
	}

	for i := 0; i < 2; i++ {
		h, err := repo.Household(ctx, "H1")
		if err != nil || h.ID != "H1" {
			t.Fatalf("Household(H1) = %+v, %v", h, err)
		}
	}
	if n := e.count("GET /api/households/H1"); n != 1 {
		t.Errorf("household requests = %d, want 1", n)
	}

	if _, err := repo.Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if _, err := repo.Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if n := e.count("GET /api/tasks"); n != 1 {
		t.Fatalf("task requests before event = %d, want 1", n)
	}

	// a task event without a points update
	t2 := findTask(e.sim.Store().Tasks(), "t2")
	if err := e.sim.EmitTaskUpdated("H1", t2, nil); err != nil {
		t.Fatalf("EmitTaskUpdated() error = %v", err)
	}
	waitFor(t, "task list invalidation", func() bool {
		return e.client.Cache().Snapshot(household.TasksKey()).Invalidated
	})
	if _, err := repo.Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if n := e.count("GET /api/tasks"); n != 2 {
		t.Errorf("task requests after event = %d, want 2", n)
	}
	if n := e.count("GET /api/members"); n != 0 {
		t.Errorf("member list requested %d times without a points update", n)
	}

	gate := e.holdPuts()
	done := make(chan error, 1)
	go func() {
		_, err := repo.ApproveTask(ctx, "t1")
		done <- err
	}()

	waitFor(t, "approve request", func() bool { return e.count("PUT /api/tasks/t1/approve") == 1 })
	if got := findTask(cachedTasks(e), "t1").Status; got != household.StatusApproved {
		t.Errorf("status while request in flight = %q, want Approved", got)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("ApproveTask() error = %v", err)
	}
	if got := findTask(cachedTasks(e), "t1").Status; got != household.StatusApproved {
		t.Errorf("status after success = %q, want Approved", got)
	}
}

func TestClient_ApprovePropagatesPoints(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	repo := e.client.Household()

	if _, err := repo.Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	m, err := repo.Member(ctx, "m1")
	if err != nil || m.PointsTotal != 0 {
		t.Fatalf("Member(m1) = %+v, %v", m, err)
	}
	if _, err := repo.Members(ctx); err != nil {
		t.Fatalf("Members() error = %v", err)
	}

	updates := make(chan events.TaskUpdated, 4)
	sub := events.Subscribe(e.client.Events(), func(ev events.TaskUpdated) { updates <- ev })
	defer sub.Release()

	task, err := repo.ApproveTask(ctx, "t1")
	if err != nil {
		t.Fatalf("ApproveTask() error = %v", err)
	}
	if task.Status != household.StatusApproved {
		t.Errorf("approved task = %+v", task)
	}
	if n := recv(t, e.notices); n.Kind != optimistic.KindSuccess {
		t.Errorf("notification = %+v, want success", n)
	}

	ev := recv(t, updates)
	if ev.Update.ID != "t1" || ev.Update.MemberUpdate == nil || ev.Update.MemberUpdate.PointsTotal != 5 {
		t.Errorf("event = %+v", ev.Update)
	}

	waitFor(t, "member refetch", func() bool {
		v, ok := e.client.Cache().GetData(household.MemberKey("m1"))
		return ok && v.(household.Member).PointsTotal == 5
	})
	waitFor(t, "member list refetch", func() bool {
		v, ok := e.client.Cache().GetData(household.MembersKey())
		if !ok {
			return false
		}
		for _, m := range v.([]household.Member) {
			if m.ID == "m1" {
				return m.PointsTotal == 5
			}
		}
		return false
	})

	tasks, err := repo.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if got := findTask(tasks, "t1").Status; got != household.StatusApproved {
		t.Errorf("t1 status = %q, want Approved", got)
	}
}

func TestClient_RejectedMutationRollsBack(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()

	before, err := e.client.Household().Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}

	_, err = e.client.Household().ApproveTask(ctx, "t3")
	if apiclient.StatusCode(err) != 409 {
		t.Fatalf("ApproveTask(pending) error = %v, want 409", err)
	}

	n := recv(t, e.notices)
	if n.Kind != optimistic.KindFailure || !strings.Contains(n.Message, "cannot approve") {
		t.Errorf("notification = %+v", n)
	}
	if got := findTask(cachedTasks(e), "t3").Status; got != findTask(before, "t3").Status {
		t.Errorf("t3 status after rollback = %q, want %q", got, findTask(before, "t3").Status)
	}
}

func TestClient_ExternalChangeInvalidatesTasks(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()

	if _, err := e.client.Household().Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}

	// another household member completes a task
	task, _, err := e.sim.Store().Transition("t2", gatewaysim.ActionComplete)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if err := e.sim.EmitTaskUpdated("H1", task, nil); err != nil {
		t.Fatalf("EmitTaskUpdated() error = %v", err)
	}

	waitFor(t, "task list invalidation", func() bool {
		return e.client.Cache().Snapshot(household.TasksKey()).Invalidated
	})

	tasks, err := e.client.Household().Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}
	if got := findTask(tasks, "t2").Status; got != household.StatusCompleted {
		t.Errorf("t2 status = %q, want Completed", got)
	}
}

func TestClient_ServerDisconnectReconnects(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()

	if _, err := e.client.Household().Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}

	connected := make(chan events.Connected, 4)
	sub := events.Subscribe(e.client.Events(), func(ev events.Connected) { connected <- ev })
	defer sub.Release()

	if err := e.sim.Emit("H1", push.Frame{Type: events.NameDisconnect}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if ev := recv(t, connected); !ev.Reconnect {
		t.Error("Connected.Reconnect = false after a server disconnect")
	}
	if !e.client.Cache().Snapshot(household.TasksKey()).Invalidated {
		t.Error("cache not invalidated on reconnect")
	}
	if got := e.client.Listener().Stats().Reconnects; got == 0 {
		t.Error("Stats().Reconnects = 0")
	}
}

func TestClient_LogoutClearsEverything(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()

	if _, err := e.client.Household().Tasks(ctx); err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}

	if err := e.client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	waitFor(t, "listener disconnect", func() bool {
		return e.client.Listener().State() == push.StateDisconnected
	})
	if n := e.client.Cache().Len(); n != 0 {
		t.Errorf("cache entries after logout = %d", n)
	}
	if _, err := e.client.Credentials().Credential(ctx); !errors.Is(err, credentials.ErrNoSession) {
		t.Errorf("Credential() error = %v, want ErrNoSession", err)
	}

	// logging back in reconnects as a first connection
	e.login(t)
}

func TestClient_SignInSwitchesPushFeed(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()

	if got := e.lastSocket(); got != "H1" {
		t.Fatalf("feed household = %q, want H1", got)
	}
	waitFor(t, "feed registration", func() bool { return e.sim.Hub().ClientCount() == 1 })

	if err := e.client.SignIn(ctx, "other-household-session", "H2"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	waitFor(t, "feed for the new household", func() bool { return e.lastSocket() == "H2" })
	waitFor(t, "previous feed closed", func() bool { return e.sim.Hub().ClientCount() == 0 })

	cred, err := e.client.Credentials().Credential(ctx)
	if err != nil || cred.HouseholdID != "H2" {
		t.Errorf("stored session = %+v, %v", cred, err)
	}
	if n := e.client.Cache().Len(); n != 0 {
		t.Errorf("cache entries after sign-in = %d, want 0", n)
	}
}

func TestClient_DisposeIsIdempotent(t *testing.T) {
	e := newEnv(t)

	if err := e.client.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if err := e.client.Init(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Init() after Dispose error = %v, want ErrDisposed", err)
	}
	if err := e.client.SignIn(context.Background(), "T", "H1"); !errors.Is(err, ErrDisposed) {
		t.Errorf("SignIn() after Dispose error = %v, want ErrDisposed", err)
	}
}
