// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package appservice handles the Matrix appservice registration file:
// the YAML document shared between the bridge and the homeserver that
// carries the authentication tokens and the exclusive user namespace.
package appservice

import (
	"fmt"
	"os"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hookbridge/hookbridge/lib/ref"
)

// Namespace is one entry of an appservice namespace list.
type Namespace struct {
	Exclusive bool   `yaml:"exclusive"`
	Regex     string `yaml:"regex"`
}

// Namespaces groups the identifier namespaces an appservice claims.
type Namespaces struct {
	Users   []Namespace `yaml:"users,omitempty"`
	Aliases []Namespace `yaml:"aliases,omitempty"`
	Rooms   []Namespace `yaml:"rooms,omitempty"`
}

// Registration is the appservice registration document. The homeserver
// admin installs this file on the homeserver; the bridge loads the same
// file at startup for its tokens.
type Registration struct {
	// ID uniquely identifies this appservice on the homeserver.
	ID string `yaml:"id"`

	// URL is where the homeserver can reach the appservice. The bridge
	// pulls events via /sync instead of receiving transaction pushes,
	// so this may be null.
	URL string `yaml:"url"`

	// ASToken authenticates the bridge to the homeserver.
	ASToken string `yaml:"as_token"`

	// HSToken authenticates the homeserver to the bridge. Unused in
	// the sync-based event flow but required by the schema.
	HSToken string `yaml:"hs_token"`

	// SenderLocalpart is the localpart of the primary bot user.
	SenderLocalpart string `yaml:"sender_localpart"`

	// RateLimited disables homeserver rate limiting for appservice
	// users when false. A webhook burst must not be throttled.
	RateLimited bool `yaml:"rate_limited"`

	Namespaces Namespaces `yaml:"namespaces"`
}

// Generate creates a fresh registration for a bridge whose primary bot
// uses the given localpart. The exclusive user namespace covers the
// primary bot and every derived per-webhook identity
// (localpart, then "localpart__<digest>").
func Generate(senderLocalpart string, serverName ref.ServerName) (*Registration, error) {
	if err := ref.ValidateLocalpart(senderLocalpart); err != nil {
		return nil, fmt.Errorf("appservice: sender localpart: %w", err)
	}

	userRegex := "@" + regexp.QuoteMeta(senderLocalpart) +
		"(__.*)?:" + regexp.QuoteMeta(serverName.String())

	return &Registration{
		ID:              uuid.NewString(),
		ASToken:         uuid.NewString(),
		HSToken:         uuid.NewString(),
		SenderLocalpart: senderLocalpart,
		RateLimited:     false,
		Namespaces: Namespaces{
			Users: []Namespace{
				{Exclusive: true, Regex: userRegex},
			},
		},
	}, nil
}

// Load reads a registration file.
func Load(path string) (*Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("appservice: reading %s: %w", path, err)
	}

	var registration Registration
	if err := yaml.Unmarshal(data, &registration); err != nil {
		return nil, fmt.Errorf("appservice: parsing %s: %w", path, err)
	}

	if registration.ASToken == "" {
		return nil, fmt.Errorf("appservice: %s has no as_token", path)
	}
	if registration.SenderLocalpart == "" {
		return nil, fmt.Errorf("appservice: %s has no sender_localpart", path)
	}
	return &registration, nil
}

// Save writes the registration to path. The file carries bearer tokens,
// so it is created owner-readable only.
func (r *Registration) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("appservice: encoding registration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("appservice: writing %s: %w", path, err)
	}
	return nil
}
