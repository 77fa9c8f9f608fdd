// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Status is a human-readable outcome reported by the login flow. The
// values are part of the HTTP contract and must not change.
type Status string

const (
	StatusCodeSent          Status = "Code sent"
	StatusAlreadyAuthorized Status = "Already authorized"
	StatusLoginOK           Status = "Login successful"
)

const sessionSuffix = ".session"

// SessionManager owns per-account credentials and live connections. It
// drives the code-request/verify flow, retries transient credential
// store locks with linear backoff, and caches working connections so
// repeated acquisitions within a process lifetime do not re-open the
// backing session store.
type SessionManager struct {
	transport Transport
	dir       string
	attempts  int
	step      time.Duration
	log       zerolog.Logger

	// pending maps phone → challenge token. Last code request wins.
	pending *exsync.Map[string, string]
	// locks holds one lazily created mutex per account, serializing
	// compound HTTP-triggered operations for that account.
	locks *exsync.Map[string, *sync.Mutex]

	mu      sync.Mutex
	working map[string]Conn
}

// NewSessionManager creates a session manager over the given transport.
// A non-positive retry budget is clamped to a single attempt so connect
// always runs at least once.
func NewSessionManager(transport Transport, cfg Config, log zerolog.Logger) *SessionManager {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &SessionManager{
		transport: transport,
		dir:       cfg.SessionDir,
		attempts:  attempts,
		step:      cfg.RetryStep,
		log:       log.With().Str("component", "session_manager").Logger(),
		pending:   exsync.NewMap[string, string](),
		locks:     exsync.NewMap[string, *sync.Mutex](),
		working:   make(map[string]Conn),
	}
}

// LockFor returns the per-account mutex for phone, creating it on first
// use. The dispatcher's listening connection is exempt from this lock;
// it has a single owner.
func (s *SessionManager) LockFor(phone string) *sync.Mutex {
	lock, _ := s.locks.GetOrSet(phone, &sync.Mutex{})
	return lock
}

// Acquire returns a live, authenticated connection for the account,
// reusing the cached working connection when one exists. It fails with
// ErrUnauthorized when the account has no signed-in session. Concurrent
// calls for the same account are expected to be serialized by LockFor.
func (s *SessionManager) Acquire(ctx context.Context, phone string) (Conn, error) {
	s.mu.Lock()
	if conn, ok := s.working[phone]; ok {
		s.mu.Unlock()
		s.log.Debug().Str("phone", maskPhone(phone)).Msg("Reusing working session")
		return conn, nil
	}
	s.mu.Unlock()

	conn, err := s.connectWithRetry(ctx, phone)
	if err != nil {
		return nil, err
	}
	authorized, err := conn.IsAuthorized(ctx)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("failed to check authorization: %w", err)
	}
	if !authorized {
		_ = conn.Disconnect()
		return nil, ErrUnauthorized
	}

	s.mu.Lock()
	s.working[phone] = conn
	s.mu.Unlock()
	s.log.Info().Str("phone", maskPhone(phone)).Msg("Session established")
	return conn, nil
}

// RequestCode triggers the platform's verification code request. An
// already authorized account short-circuits without side effects. The
// returned challenge token is stored, overwriting any prior pending
// token for the account.
func (s *SessionManager) RequestCode(ctx context.Context, phone string) (Status, error) {
	s.log.Info().Str("phone", maskPhone(phone)).Msg("Received code request")

	conn, err := s.connectWithRetry(ctx, phone)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = conn.Disconnect()
	}()

	authorized, err := conn.IsAuthorized(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check authorization: %w", err)
	}
	if authorized {
		return StatusAlreadyAuthorized, nil
	}

	challenge, err := conn.RequestCode(ctx, phone)
	if err != nil {
		return "", err
	}
	s.pending.Set(phone, challenge)
	s.log.Info().Str("phone", maskPhone(phone)).Msg("Code sent")
	return StatusCodeSent, nil
}

// Verify completes the sign-in flow with the code the user received.
// Without a pending challenge it fails with ErrMissingChallenge and
// never contacts the transport. On success the credential is persisted
// and the pending challenge is cleared; on failure the challenge stays
// so the caller may retry or request a fresh code.
func (s *SessionManager) Verify(ctx context.Context, phone, code string) (Status, error) {
	s.log.Info().Str("phone", maskPhone(phone)).Msg("Verifying code")

	challenge, ok := s.pending.Get(phone)
	if !ok {
		return "", ErrMissingChallenge
	}

	conn, err := s.connectWithRetry(ctx, phone)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = conn.Disconnect()
	}()

	authorized, err := conn.IsAuthorized(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check authorization: %w", err)
	}
	if authorized {
		return StatusAlreadyAuthorized, nil
	}

	if err := conn.SignIn(ctx, phone, code, challenge); err != nil {
		return "", err
	}
	if err := conn.SaveSession(); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}
	s.pending.Pop(phone)
	s.log.Info().Str("phone", maskPhone(phone)).Msg("Login successful")
	return StatusLoginOK, nil
}

// DiscoverAccounts enumerates the accounts with a persisted credential
// blob. It is used at startup to decide which accounts to bring up.
func (s *SessionManager) DiscoverAccounts() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", s.dir).Msg("Could not read session directory")
		return nil
	}

	var phones []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionSuffix) {
			continue
		}
		phones = append(phones, strings.TrimSuffix(entry.Name(), sessionSuffix))
	}
	return phones
}

// Close disconnects every cached working connection concurrently and
// returns the number of connections closed.
func (s *SessionManager) Close() int {
	s.mu.Lock()
	conns := s.working
	s.working = make(map[string]Conn)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for phone, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Disconnect(); err != nil {
				s.log.Warn().Err(err).Str("phone", maskPhone(phone)).Msg("Error disconnecting client")
			}
		}()
	}
	wg.Wait()
	return len(conns)
}

// connectWithRetry establishes a transport connection, retrying a
// transient credential store lock up to the configured attempt budget
// with linearly increasing backoff. Any other failure aborts at once.
func (s *SessionManager) connectWithRetry(ctx context.Context, phone string) (Conn, error) {
	var lastErr error
	for attempt := range s.attempts {
		conn, err := s.transport.Connect(ctx, phone)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, ErrTransientLock) || attempt == s.attempts-1 {
			return nil, err
		}
		lastErr = err

		delay := time.Duration(attempt+1) * s.step
		s.log.Warn().Str("phone", maskPhone(phone)).Dur("delay", delay).Msg("Session store locked, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// maskPhone redacts a phone number for logging, keeping only the first
// and last two characters.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + "****" + phone[len(phone)-2:]
}
