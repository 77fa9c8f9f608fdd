// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Store owns the durable source→destinations redirection mapping. All
// mutations go through Add/Remove and are persisted synchronously via an
// atomic write-replace, so readers never observe a partial file.
//
// DestinationsFor is the dispatcher hot path and only touches the
// in-memory copy under a read lock.
type Store struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	links map[string][]string
}

// Link is one resolved (source, destination) pair for display.
type Link struct {
	SourceID        string `json:"source_id"`
	DestinationID   string `json:"destination_id"`
	SourceName      string `json:"source_name"`
	DestinationName string `json:"destination_name"`
}

// NewStore creates a store backed by the JSON file at path. Call Load
// before use.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{
		path:  path,
		log:   log.With().Str("component", "redirection_store").Logger(),
		links: make(map[string][]string),
	}
}

// Load reads the backing file into memory. A missing file yields an
// empty mapping. A corrupt file is renamed to <path>.bak and replaced
// with an empty mapping; loading never fails on bad persisted state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = make(map[string][]string)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Str("path", s.path).Msg("No redirection file found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read redirection file: %w", err)
	}

	var links map[string][]string
	if err := json.Unmarshal(data, &links); err != nil {
		backup := s.path + ".bak"
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			s.log.Error().Err(renameErr).Str("path", s.path).Msg("Failed to back up corrupt redirection file")
		} else {
			s.log.Error().Err(err).Str("backup", backup).Msg("Corrupt redirection file backed up, starting empty")
		}
		return nil
	}

	s.links = links
	if s.links == nil {
		s.links = make(map[string][]string)
	}
	return nil
}

// Add inserts destination into source's ordered destination set.
// Duplicate pairs are accepted silently without touching the file. A
// failed persist leaves the mapping unchanged.
func (s *Store) Add(source, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dest := range s.links[source] {
		if dest == destination {
			return nil
		}
	}
	s.links[source] = append(s.links[source], destination)

	if err := s.persistLocked(); err != nil {
		dests := s.links[source]
		if len(dests) == 1 {
			delete(s.links, source)
		} else {
			s.links[source] = dests[:len(dests)-1]
		}
		return err
	}
	s.log.Info().Str("source", source).Str("destination", destination).Msg("Link saved")
	return nil
}

// Remove deletes the pair, dropping the source key entirely when its
// destination set becomes empty. Returns ErrLinkNotFound if the pair
// does not exist. A failed persist leaves the mapping unchanged.
func (s *Store) Remove(source, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dests, ok := s.links[source]
	if !ok {
		return ErrLinkNotFound
	}
	idx := -1
	for i, dest := range dests {
		if dest == destination {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrLinkNotFound
	}

	updated := make([]string, 0, len(dests)-1)
	updated = append(updated, dests[:idx]...)
	updated = append(updated, dests[idx+1:]...)
	if len(updated) == 0 {
		delete(s.links, source)
	} else {
		s.links[source] = updated
	}

	if err := s.persistLocked(); err != nil {
		s.links[source] = dests
		return err
	}
	s.log.Info().Str("source", source).Str("destination", destination).Msg("Link removed")
	return nil
}

// DestinationsFor returns a copy of the ordered destination set for
// source, or nil if none are registered. It never blocks on I/O.
func (s *Store) DestinationsFor(source string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dests := s.links[source]
	if len(dests) == 0 {
		return nil
	}
	cp := make([]string, len(dests))
	copy(cp, dests)
	return cp
}

// Pairs returns a snapshot of all (source, destination) pairs.
func (s *Store) Pairs() [][2]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs [][2]string
	for source, dests := range s.links {
		for _, dest := range dests {
			pairs = append(pairs, [2]string{source, dest})
		}
	}
	return pairs
}

// List returns all pairs annotated with names resolved through conn.
// Resolution is best-effort: a pair whose names cannot be resolved is
// logged and skipped, never fatal to the listing.
func (s *Store) List(ctx context.Context, conn Conn) []Link {
	links := make([]Link, 0)
	for _, pair := range s.Pairs() {
		source, dest := pair[0], pair[1]

		sourceName, err := conn.ResolveName(ctx, source)
		if err != nil {
			s.log.Error().Err(err).Str("source", source).Str("destination", dest).Msg("Could not resolve source name, skipping pair")
			continue
		}
		destName, err := conn.ResolveName(ctx, dest)
		if err != nil {
			s.log.Error().Err(err).Str("source", source).Str("destination", dest).Msg("Could not resolve destination name, skipping pair")
			continue
		}

		links = append(links, Link{
			SourceID:        source,
			DestinationID:   dest,
			SourceName:      sourceName,
			DestinationName: destName,
		})
	}
	return links
}

// persistLocked writes the mapping to a temp file and renames it over
// the canonical path. Callers must hold the write lock.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.links)
	if err != nil {
		return fmt.Errorf("failed to encode redirections: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write redirection file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace redirection file: %w", err)
	}
	return nil
}
