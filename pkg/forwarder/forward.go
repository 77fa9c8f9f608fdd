// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"context"

	"github.com/rs/zerolog"
)

// logPreviewLimit bounds how much message text appears in logs. The
// full text is always sent; only the log line is truncated.
const logPreviewLimit = 30

// Forwarder performs the actual delivery of one message to one
// destination. Failures are logged with full context and returned to
// the dispatcher; they are never fatal to the process.
type Forwarder struct {
	log zerolog.Logger
}

// NewForwarder creates a forwarding engine.
func NewForwarder(log zerolog.Logger) *Forwarder {
	return &Forwarder{log: log.With().Str("component", "forwarder").Logger()}
}

// Forward sends text to destID over conn. The returned error is for the
// caller's accounting only: the dispatcher keeps processing remaining
// destinations and subsequent events regardless.
func (f *Forwarder) Forward(ctx context.Context, conn Conn, sourceID, destID, text string) error {
	f.log.Info().
		Str("source", sourceID).
		Str("destination", destID).
		Str("preview", truncatePreview(text, logPreviewLimit)).
		Msg("Forwarding message")

	if err := conn.SendMessage(ctx, destID, text); err != nil {
		f.log.Error().
			Err(err).
			Str("source", sourceID).
			Str("destination", destID).
			Msg("Failed to forward message")
		return err
	}
	return nil
}

// truncatePreview shortens s to at most limit runes, appending an
// ellipsis marker when truncated.
func truncatePreview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
