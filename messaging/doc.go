// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for appservice
// use.
//
// The package provides two core types. [Client] is the appservice-level
// entry point: it holds the homeserver URL, the HTTP transport, and the
// appservice access token (as_token), and handles virtual user
// registration via the m.login.application_service flow. [Session]
// binds a Client to one Matrix user ID; every request made through a
// Session carries the user_id query parameter so the homeserver
// attributes the action to that virtual user. Sessions are lightweight
// (a pointer to the parent Client plus a user ID) and safe to create
// per request.
//
// The access token lives in an mmap-backed secret.Buffer, locked
// against swap and excluded from core dumps. It is serialized into the
// Authorization header only for the duration of each HTTP call.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status
// code. [IsMatrixError] tests for a specific error code. Several codes
// mark benign races for an appservice: M_USER_IN_USE on registration
// means the virtual user already exists, and M_FORBIDDEN on a
// duplicate invite means the counterparty is already in the room.
// Request URLs are built by string concatenation rather than url.URL
// to avoid double-encoding of path segments that contain URL-encoded
// characters.
package messaging
