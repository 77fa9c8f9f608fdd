// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// newTestCoordinator builds a coordinator over the given transport with
// session files for each listed phone already on disk.
func newTestCoordinator(t *testing.T, transport *fakeTransport, phones ...string) (*Coordinator, *Store) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SessionDir = t.TempDir()
	for _, phone := range phones {
		path := filepath.Join(cfg.SessionDir, phone+sessionSuffix)
		if err := os.WriteFile(path, []byte("blob"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	sessions := NewSessionManager(transport, cfg, testLogger())
	store := newTestStore(t)
	coord := NewCoordinator(sessions, store, NewForwarder(testLogger()), testLogger())
	return coord, store
}

func TestBringUpStartsAuthorizedAccounts(t *testing.T) {
	transport := &fakeTransport{authorized: true}
	coord, store := newTestCoordinator(t, transport, "+100", "+200")

	if err := store.Add("10", "20"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if started := coord.BringUp(context.Background()); started != 2 {
		t.Fatalf("BringUp: got %d, want 2", started)
	}

	// Every brought-up connection must be listening.
	for _, conn := range transport.Created() {
		conn.Deliver(InboundMessage{ChatID: "10", Text: "hi"})
		if len(conn.Attempts()) != 1 {
			t.Errorf("connection for %s is not dispatching", conn.phone)
		}
	}
}

func TestBringUpSkipsUnauthorizedAccounts(t *testing.T) {
	transport := &fakeTransport{}
	transport.newConn = func(phone string) *fakeConn {
		return &fakeConn{phone: phone, authorized: phone == "+100"}
	}
	coord, _ := newTestCoordinator(t, transport, "+100", "+200")

	if started := coord.BringUp(context.Background()); started != 1 {
		t.Errorf("BringUp: got %d, want 1 (unauthorized skipped)", started)
	}
}

func TestBringUpNoSessions(t *testing.T) {
	transport := &fakeTransport{}
	coord, _ := newTestCoordinator(t, transport)

	if started := coord.BringUp(context.Background()); started != 0 {
		t.Errorf("BringUp: got %d, want 0", started)
	}
	if transport.Connects() != 0 {
		t.Errorf("Connect calls: got %d, want 0", transport.Connects())
	}
}

func TestShutdownDisconnectsEverything(t *testing.T) {
	transport := &fakeTransport{authorized: true}
	coord, _ := newTestCoordinator(t, transport, "+100", "+200")

	if started := coord.BringUp(context.Background()); started != 2 {
		t.Fatalf("BringUp: got %d, want 2", started)
	}

	coord.Shutdown()

	for _, conn := range transport.Created() {
		if conn.Disconnects() != 1 {
			t.Errorf("connection for %s: %d disconnects, want 1", conn.phone, conn.Disconnects())
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	transport := &fakeTransport{authorized: true}
	coord, _ := newTestCoordinator(t, transport, "+100")

	if started := coord.BringUp(context.Background()); started != 1 {
		t.Fatalf("BringUp: got %d, want 1", started)
	}

	coord.Shutdown()
	coord.Shutdown()

	conns := transport.Created()
	if conns[0].Disconnects() != 1 {
		t.Errorf("disconnects: got %d, want 1 (teardown runs once)", conns[0].Disconnects())
	}
}

func TestSignalShutdownOnlySetsFlag(t *testing.T) {
	transport := &fakeTransport{authorized: true}
	coord, _ := newTestCoordinator(t, transport, "+100")

	if started := coord.BringUp(context.Background()); started != 1 {
		t.Fatalf("BringUp: got %d, want 1", started)
	}

	select {
	case <-coord.ShutdownRequested():
		t.Fatal("shutdown flagged before any signal")
	default:
	}

	coord.SignalShutdown()
	coord.SignalShutdown()

	select {
	case <-coord.ShutdownRequested():
	default:
		t.Fatal("shutdown not flagged after signal")
	}

	// The flag alone tears nothing down; connections stay live until
	// Shutdown runs on the main execution context.
	if conns := transport.Created(); conns[0].Disconnects() != 0 {
		t.Errorf("disconnects before Shutdown: got %d, want 0", conns[0].Disconnects())
	}
	coord.Shutdown()
}
