// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// allowedLocalpartChars is the set of characters permitted in Matrix
// localparts (per the Matrix spec: a-z, 0-9, and the symbols . _ = - /).
var allowedLocalpartChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedLocalpartChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedLocalpartChars[c] = true
	}
	allowedLocalpartChars['.'] = true
	allowedLocalpartChars['_'] = true
	allowedLocalpartChars['='] = true
	allowedLocalpartChars['-'] = true
	allowedLocalpartChars['/'] = true
}

// ValidateLocalpart checks that a localpart is non-empty and contains
// only characters the Matrix spec allows in user ID localparts. Webhook
// bot localparts are built from configured values plus hex digests, so
// this is the only validation they need.
func ValidateLocalpart(localpart string) error {
	if localpart == "" {
		return fmt.Errorf("localpart is empty")
	}
	for i := 0; i < len(localpart); i++ {
		if !allowedLocalpartChars[localpart[i]] {
			return fmt.Errorf("localpart %q: invalid character %q at position %d (allowed: a-z, 0-9, ., _, =, -, /)", localpart, localpart[i], i)
		}
	}
	return nil
}

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters, no Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '!' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// MatrixUserID constructs a Matrix user ID (@localpart:server) from its
// parts. The localpart must already be valid (see ValidateLocalpart).
func MatrixUserID(localpart string, server ServerName) UserID {
	return UserID{id: "@" + localpart + ":" + server.name}
}

// parseMatrixID extracts localpart and server from @localpart:server.
func parseMatrixID(matrixID string) (localpart, server string, err error) {
	if len(matrixID) < 2 || matrixID[0] != '@' {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: must start with @", matrixID)
	}
	colonIndex := strings.Index(matrixID[1:], ":")
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: missing :server", matrixID)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: empty localpart", matrixID)
	}
	localpart = matrixID[1:colonIndex]
	server = matrixID[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid Matrix user ID %q: empty server", matrixID)
	}
	return localpart, server, nil
}
