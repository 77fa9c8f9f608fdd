// Copyright 2025-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package forwarder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// attempt records one SendMessage call on a fake connection, whether it
// succeeded or not.
type attempt struct {
	Dest string
	Text string
}

// fakeConn is an in-memory Conn with scriptable behavior.
type fakeConn struct {
	mu sync.Mutex

	phone      string
	authorized bool

	challenge      string
	requestCodeErr error
	signInErr      error
	chats          []ChatInfo
	chatsErr       error
	// names maps chat ID to resolved name; missing IDs fail to resolve.
	names map[string]string
	// sendErrs maps destination ID to a send failure.
	sendErrs map[string]error

	handler func(InboundMessage)

	attempts      []attempt
	codeRequests  int
	signIns       int
	lastChallenge string
	saves         int
	disconnects   int
}

func (c *fakeConn) IsAuthorized(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized, nil
}

func (c *fakeConn) RequestCode(_ context.Context, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codeRequests++
	if c.requestCodeErr != nil {
		return "", c.requestCodeErr
	}
	return c.challenge, nil
}

func (c *fakeConn) SignIn(_ context.Context, _, _, challenge string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signIns++
	c.lastChallenge = challenge
	if c.signInErr != nil {
		return c.signInErr
	}
	c.authorized = true
	return nil
}

func (c *fakeConn) SaveSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	return nil
}

func (c *fakeConn) OnMessage(handler func(msg InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *fakeConn) SendMessage(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, attempt{Dest: chatID, Text: text})
	if err, ok := c.sendErrs[chatID]; ok {
		return err
	}
	return nil
}

func (c *fakeConn) ListChats(_ context.Context) ([]ChatInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatsErr != nil {
		return nil, c.chatsErr
	}
	return c.chats, nil
}

func (c *fakeConn) ResolveName(_ context.Context, chatID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[chatID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no such entity %s", chatID)
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

// Deliver simulates an inbound message arriving on the connection. It
// runs the registered handler synchronously, like the transport does.
func (c *fakeConn) Deliver(msg InboundMessage) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

// Attempts returns a copy of all recorded SendMessage calls.
func (c *fakeConn) Attempts() []attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]attempt, len(c.attempts))
	copy(cp, c.attempts)
	return cp
}

func (c *fakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *fakeConn) SignIns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signIns
}

// fakeTransport hands out fakeConns. Behavior of the next connection is
// controlled through the exported fields; every created connection is
// kept for later inspection.
type fakeTransport struct {
	mu sync.Mutex

	// lockFailures makes the next n Connect calls fail transiently.
	lockFailures int
	// connectErr makes every Connect call fail hard.
	connectErr error
	// authorized is applied to connections created without a factory.
	authorized bool
	// challenge is applied to connections created without a factory.
	challenge string
	// newConn, when set, builds the connection for a phone.
	newConn func(phone string) *fakeConn

	connects int
	created  []*fakeConn
}

func (t *fakeTransport) Connect(_ context.Context, phone string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.lockFailures > 0 {
		t.lockFailures--
		return nil, fmt.Errorf("connect %s: %w", phone, ErrTransientLock)
	}
	if t.connectErr != nil {
		return nil, t.connectErr
	}

	var conn *fakeConn
	if t.newConn != nil {
		conn = t.newConn(phone)
	} else {
		conn = &fakeConn{phone: phone, authorized: t.authorized, challenge: t.challenge}
	}
	t.created = append(t.created, conn)
	return conn, nil
}

func (t *fakeTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *fakeTransport) Created() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]*fakeConn, len(t.created))
	copy(cp, t.created)
	return cp
}

// testLogger returns the silent logger used throughout the tests.
func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// newTestStore creates a loaded store over a file in a temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "redirections.json"), zerolog.Nop())
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return store
}

// newTestSessions creates a session manager over the given transport
// with a millisecond retry step so lock-retry tests stay fast.
func newTestSessions(t *testing.T, transport Transport) *SessionManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SessionDir = t.TempDir()
	cfg.RetryStep = time.Millisecond
	return NewSessionManager(transport, cfg, zerolog.Nop())
}
