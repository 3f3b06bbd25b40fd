// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// Raw identifier strings from config files, HTTP paths, and homeserver
// responses are parsed into these types at the boundary and passed
// through the rest of the bridge as immutable values. The zero value of
// every type is invalid; use IsZero to check.
package ref
