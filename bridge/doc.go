// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge orchestrates the webhook-to-Matrix flow: provisioning
// virtual identities on the homeserver, resolving per-user admin rooms,
// handling the "!webhook" command from the sync loop, and delivering
// inbound webhook payloads as room messages.
//
// The package sits between the HTTP surface (Handler) and the messaging
// layer. Each inbound webhook is delivered by a virtual identity whose
// localpart is derived deterministically from the webhook id, so repeated
// deliveries for the same hook reuse the same Matrix user and profile
// updates converge rather than accumulate.
//
// Provisioning is idempotent: registration treats an already-registered
// localpart as success, display names are always written, and avatar sync
// is best effort. Avatar failures are logged and never block delivery;
// they are the only errors this package swallows.
package bridge
