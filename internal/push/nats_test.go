// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

//go:build nats

package push

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/choresync/internal/credentials"
)

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSTransport_DeliversFrames(t *testing.T) {
	ns := startNATS(t)

	tr, err := NewNATSTransport(ns.ClientURL())
	if err != nil {
		t.Fatalf("NewNATSTransport() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx, credentials.Credential{Token: "T", HouseholdID: "H1"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	pub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("publisher connect: %v", err)
	}
	defer pub.Close()

	if err := pub.Publish(Subject("H2"), []byte(`{"type":"taskUpdated","data":{"id":"other"}}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(Subject("H1"), []byte(`{"type":"taskUpdated","data":{"id":"t1"}}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	select {
	case f := <-conn.Frames():
		if f.Type != "taskUpdated" || string(f.Data) != `{"id":"t1"}` {
			t.Errorf("frame = %s %s", f.Type, f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestNATSTransport_ServerShutdownEndsConn(t *testing.T) {
	ns := startNATS(t)
	tr, _ := NewNATSTransport(ns.ClientURL())

	conn, err := tr.Dial(context.Background(), credentials.Credential{Token: "T", HouseholdID: "H1"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	ns.Shutdown()

	select {
	case _, ok := <-conn.Frames():
		if ok {
			t.Fatal("unexpected frame")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame channel not closed after server shutdown")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("H1"); got != "household.H1.events" {
		t.Errorf("Subject() = %q", got)
	}
}
