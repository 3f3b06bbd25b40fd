// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the runtime plumbing shared by the bridge
// process: an HTTP listener with graceful shutdown for webhook
// ingestion, and the Matrix /sync long-poll loop that feeds chat
// events (invites, commands) to the bridge.
package service
