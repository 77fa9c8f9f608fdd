// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Coordinator tracks every live connection brought up at startup and
// performs coordinated shutdown of all of them as a unit. A shutdown
// signal only sets a flag; the actual teardown runs on the normal
// execution context, never inside the signal handler.
type Coordinator struct {
	sessions *SessionManager
	store    *Store
	fwd      *Forwarder
	log      zerolog.Logger

	stop         *exsync.Event
	shutdownOnce sync.Once

	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
}

// NewCoordinator creates the lifecycle coordinator.
func NewCoordinator(sessions *SessionManager, store *Store, fwd *Forwarder, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		sessions:    sessions,
		store:       store,
		fwd:         fwd,
		log:         log.With().Str("component", "lifecycle").Logger(),
		stop:        exsync.NewEvent(),
		dispatchers: make(map[string]*Dispatcher),
	}
}

// BringUp discovers all accounts with persisted credentials and starts
// a dispatcher for each one that is authorized. Accounts without a valid
// credential are skipped with a warning, not treated as errors. Returns
// the number of connections brought up.
func (c *Coordinator) BringUp(ctx context.Context) int {
	phones := c.sessions.DiscoverAccounts()
	if len(phones) == 0 {
		c.log.Warn().Msg("No session files found")
		return 0
	}

	started := 0
	for _, phone := range phones {
		conn, err := c.sessions.Acquire(ctx, phone)
		if errors.Is(err, ErrUnauthorized) {
			c.log.Warn().Str("phone", maskPhone(phone)).Msg("Account is not authorized, skipping")
			continue
		}
		if err != nil {
			c.log.Error().Err(err).Str("phone", maskPhone(phone)).Msg("Failed to start client, skipping")
			continue
		}

		d := NewDispatcher(phone, conn, c.store, c.fwd, c.log)
		d.Start(ctx)

		c.mu.Lock()
		c.dispatchers[phone] = d
		c.mu.Unlock()
		started++
	}

	if started == 0 {
		c.log.Warn().Msg("No authorized clients could be started")
	} else {
		c.log.Info().Int("count", started).Msg("Clients started, listening for messages")
	}
	return started
}

// SignalShutdown flags the coordinator to shut down. It is safe to call
// from an asynchronous signal context and idempotent: a second signal
// while already shutting down is a no-op.
func (c *Coordinator) SignalShutdown() {
	c.stop.Set()
}

// ShutdownRequested returns a channel closed once shutdown is flagged.
// Long-running waits observe it to exit promptly.
func (c *Coordinator) ShutdownRequested() exsync.EventChan {
	return c.stop.GetChan()
}

// Shutdown performs the actual teardown exactly once: every dispatcher
// drains, in-flight forwards complete, then all live connections are
// disconnected concurrently. No connection is left open afterwards.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.stop.Set()

		c.mu.Lock()
		dispatchers := make([]*Dispatcher, 0, len(c.dispatchers))
		for _, d := range c.dispatchers {
			dispatchers = append(dispatchers, d)
		}
		c.dispatchers = make(map[string]*Dispatcher)
		c.mu.Unlock()

		for _, d := range dispatchers {
			d.Drain()
		}
		for _, d := range dispatchers {
			d.Wait()
		}

		count := c.sessions.Close()
		c.log.Info().Int("count", count).Msg("All clients disconnected")
	})
}
