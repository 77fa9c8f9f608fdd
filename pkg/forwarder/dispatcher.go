// Copyright 2025-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package forwarder

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DispatcherState is the lifecycle state of an event dispatcher.
type DispatcherState int32

const (
	// StateListening is the default state: inbound messages are matched
	// against the redirection store and forwarded.
	StateListening DispatcherState = iota
	// StateDraining refuses new work but lets in-flight forwards finish.
	StateDraining
	// StateStopped is terminal.
	StateStopped
)

func (s DispatcherState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Dispatcher subscribes to one live connection's inbound messages and
// hands each match to the forwarding engine. One dispatcher exists per
// connection brought up at startup; the short-lived connections used by
// the login flow never get one.
//
// Events arrive one at a time per connection, so per-account ordering
// follows arrival order. Destinations of a single event carry no
// ordering guarantee, but every listed destination is attempted.
type Dispatcher struct {
	phone string
	conn  Conn
	store *Store
	fwd   *Forwarder
	log   zerolog.Logger

	ctx context.Context

	// stateMu orders admission against Drain: a handler registers with
	// inflight under the read lock, so once Drain has flipped the state
	// under the write lock no new work can be admitted and Wait is safe.
	stateMu  sync.RWMutex
	state    DispatcherState
	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher for one account's live connection.
func NewDispatcher(phone string, conn Conn, store *Store, fwd *Forwarder, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		phone: phone,
		conn:  conn,
		store: store,
		fwd:   fwd,
		log: log.With().
			Str("component", "dispatcher").
			Str("phone", maskPhone(phone)).
			Logger(),
	}
}

// Start registers the inbound handler on the connection. ctx bounds the
// outbound sends triggered by inbound messages.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
	d.conn.OnMessage(d.handle)
	d.log.Info().Msg("Listening for messages")
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() DispatcherState {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// Drain moves the dispatcher out of Listening. New inbound messages are
// ignored from this point on; in-flight forwards are unaffected.
func (d *Dispatcher) Drain() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.state == StateListening {
		d.state = StateDraining
		d.log.Info().Msg("Draining dispatcher")
	}
}

// Wait blocks until all in-flight forwards have completed, then marks
// the dispatcher stopped.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
	d.stateMu.Lock()
	d.state = StateStopped
	d.stateMu.Unlock()
}

// handle processes one inbound message. Empty text means a non-text
// event and is skipped. Each destination is attempted independently; a
// failure never aborts the remaining destinations or the listen loop.
func (d *Dispatcher) handle(msg InboundMessage) {
	d.stateMu.RLock()
	if d.state != StateListening {
		d.stateMu.RUnlock()
		return
	}
	d.inflight.Add(1)
	d.stateMu.RUnlock()
	defer d.inflight.Done()

	if msg.Text == "" {
		return
	}

	dests := d.store.DestinationsFor(msg.ChatID)
	if len(dests) == 0 {
		return
	}

	for _, dest := range dests {
		// Errors are already logged by the forwarder; keep going.
		_ = d.fwd.Forward(d.ctx, d.conn, msg.ChatID, dest, msg.Text)
	}
}
