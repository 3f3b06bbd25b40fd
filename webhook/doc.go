// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook defines the inbound payload schema and the pure text
// pipeline that turns a payload into Matrix message content.
//
// The pipeline has two independent stages. Emoji substitution replaces
// :name: shortcodes with their Unicode glyphs from an embedded table.
// HTML reduction extracts the text nodes of an HTML fragment in
// document order, producing the plaintext fallback Matrix requires
// alongside a formatted body. When both run, emoji substitution runs
// first so glyphs appear in the formatted body and the fallback alike.
//
// [Payload.MessageContent] is the composer: it maps the payload's
// msgtype and format to one of the six Matrix content shapes. All of
// this is pure computation with no I/O, so it is exercised directly in
// tests without a homeserver.
package webhook
