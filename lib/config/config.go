// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the bridge.
//
// Configuration is loaded from a single YAML file specified by:
//   - HOOKBRIDGE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is the
// single source of truth; environment variables do not override values.
// This ensures deterministic, auditable configuration with no hidden
// overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hookbridge/hookbridge/lib/ref"
)

// Config is the bridge configuration.
type Config struct {
	// Homeserver identifies the Matrix homeserver the bridge talks to.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Bot configures the primary bot identity.
	Bot BotConfig `yaml:"bot"`

	// Web configures the externally visible HTTP surface.
	Web WebConfig `yaml:"web"`

	// Database configures webhook persistence.
	Database DatabaseConfig `yaml:"database"`
}

// HomeserverConfig identifies the Matrix homeserver.
type HomeserverConfig struct {
	// URL is the base client-server API URL (e.g., "http://localhost:8008").
	URL string `yaml:"url"`

	// Domain is the server name appearing in user IDs (e.g., "example.org").
	// This is often different from the URL's host.
	Domain string `yaml:"domain"`
}

// BotConfig configures the primary bot identity.
type BotConfig struct {
	// Localpart is the primary bot's user localpart. Per-webhook
	// identities derive their localparts from this value.
	// Default: "hookbridge".
	Localpart string `yaml:"localpart"`

	// DisplayName is the profile name the primary bot presents.
	// Default: "Webhook Bridge".
	DisplayName string `yaml:"displayName"`

	// AvatarURL is an HTTP(S) URL the bot's avatar is fetched from.
	// Empty means no avatar. Avatar failures never block startup.
	AvatarURL string `yaml:"avatarUrl"`
}

// WebConfig configures the externally visible HTTP surface.
type WebConfig struct {
	// ListenAddress is the host:port the inbound webhook listener
	// binds. Default: ":9000".
	ListenAddress string `yaml:"listenAddress"`

	// PublicBaseURL is the externally reachable base URL used to build
	// the hook URLs shown to users (e.g., "https://hooks.example.org").
	// The path /api/v1/matrix/hook/{id} is appended to it.
	PublicBaseURL string `yaml:"publicBaseUrl"`
}

// DatabaseConfig configures webhook persistence.
type DatabaseConfig struct {
	// Path is the SQLite database file. Default: "hookbridge.db".
	Path string `yaml:"path"`
}

// Default returns the default configuration. Defaults exist so optional
// fields have sensible values; the required fields (homeserver URL and
// domain, public base URL) have no defaults and must come from the file.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Localpart:   "hookbridge",
			DisplayName: "Webhook Bridge",
		},
		Web: WebConfig{
			ListenAddress: ":9000",
		},
		Database: DatabaseConfig{
			Path: "hookbridge.db",
		},
	}
}

// Load loads configuration from the HOOKBRIDGE_CONFIG environment
// variable. If the variable is not set, this fails; use LoadFile with
// an explicit path from the --config flag instead.
func Load() (*Config, error) {
	configPath := os.Getenv("HOOKBRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HOOKBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file's values over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors. All problems are
// reported at once rather than one per run.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	} else if _, err := url.Parse(c.Homeserver.URL); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.url is not a valid URL: %w", err))
	}

	if c.Homeserver.Domain == "" {
		errs = append(errs, fmt.Errorf("homeserver.domain is required"))
	} else if _, err := ref.ParseServerName(c.Homeserver.Domain); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.domain: %w", err))
	}

	if c.Bot.Localpart == "" {
		errs = append(errs, fmt.Errorf("bot.localpart is required"))
	} else if err := ref.ValidateLocalpart(c.Bot.Localpart); err != nil {
		errs = append(errs, fmt.Errorf("bot.localpart: %w", err))
	}

	if c.Web.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("web.listenAddress is required"))
	}

	if c.Web.PublicBaseURL == "" {
		errs = append(errs, fmt.Errorf("web.publicBaseUrl is required"))
	} else {
		parsed, err := url.Parse(c.Web.PublicBaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("web.publicBaseUrl must be an absolute URL"))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ServerName returns the homeserver domain as a validated ref value.
// Call Validate first; this panics on an invalid domain.
func (c *Config) ServerName() ref.ServerName {
	serverName, err := ref.ParseServerName(c.Homeserver.Domain)
	if err != nil {
		panic(fmt.Sprintf("config: invalid homeserver domain %q: %v", c.Homeserver.Domain, err))
	}
	return serverName
}

// HookURL builds the externally visible URL for a webhook id.
func (c *Config) HookURL(webhookID string) string {
	base := strings.TrimRight(c.Web.PublicBaseURL, "/")
	return base + "/api/v1/matrix/hook/" + webhookID
}
