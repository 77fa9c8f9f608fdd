// Copyright 2025-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package forwarder implements a multi-account Telegram message
// redirection engine: it authenticates any number of Telegram accounts,
// keeps a durable mapping of source chat to destination chats, and
// relays new text messages from sources to destinations as they arrive.
//
// # Core Types
//
// [Store] owns the redirection mapping. It is loaded once at startup and
// persisted atomically (temp file + rename) on every mutation, so a crash
// mid-write never corrupts the file. A corrupt file found at load time is
// backed up and replaced with an empty mapping instead of failing.
//
// [SessionManager] owns account credentials and live connections. It
// drives the code-request/verify login flow, retries transient credential
// store locks with linear backoff, and caches working connections so
// repeated HTTP-triggered operations do not re-open the backing session.
//
// [Dispatcher] listens for inbound messages on one live connection and
// hands each matching message to the [Forwarder]. It moves from Listening
// to Draining on shutdown, letting in-flight forwards complete.
//
// [Coordinator] tracks every live connection and performs coordinated,
// idempotent shutdown: drain all dispatchers, wait for in-flight
// forwards, then disconnect everything concurrently.
//
// [API] is a thin JSON façade over the core, exposing the send-code,
// verify-code, get-chats, set-link, get-links and delete-link endpoints.
//
// # Failure Isolation
//
// A failed forward to one destination never prevents delivery attempts to
// the remaining destinations of the same message, and never stops the
// listening loop. Every failure is logged with source and destination
// context. These guarantees must not be weakened.
//
// # Sub-packages
//
//   - telegram adapts the MTProto client library to the Transport
//     capability interface used by the core.
package forwarder
