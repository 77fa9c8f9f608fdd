// Copyright 2025-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command telegram-forwarder authenticates multiple Telegram accounts,
// listens for new text messages on each and relays them to the
// destinations configured through its JSON API. It runs the forwarding
// engine and the HTTP façade in a single process and shuts both down
// cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/telegram-forwarder/pkg/forwarder"
	"github.com/aiku/telegram-forwarder/pkg/forwarder/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := forwarder.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		log = log.Level(level)
	}

	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built", BuildTime).
		Msg("Telegram forwarder starting up")

	store := forwarder.NewStore(cfg.RedirectionFile, log)
	if err := store.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load redirections")
	}

	transport, err := telegram.NewTransport(cfg.APIID, cfg.APIHash, cfg.SessionDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transport")
	}

	sessions := forwarder.NewSessionManager(transport, cfg, log)
	fwd := forwarder.NewForwarder(log)
	coord := forwarder.NewCoordinator(sessions, store, fwd, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.BringUp(ctx)

	api := forwarder.NewAPI(store, sessions, log)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting HTTP API")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP API error")
		}
	}()

	// The signal handler only flags shutdown; teardown runs below on the
	// main goroutine.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down gracefully")
			coord.SignalShutdown()
		}
	}()

	<-coord.ShutdownRequested()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP API shutdown error")
	}

	coord.Shutdown()
	log.Info().Msg("Forwarder stopped")
}
