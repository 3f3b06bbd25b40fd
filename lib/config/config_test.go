// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hookbridge/hookbridge/lib/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
homeserver:
  url: http://localhost:8008
  domain: example.org
bot:
  localpart: hooks
  displayName: Hook Bot
  avatarUrl: https://example.org/avatar.png
web:
  listenAddress: ":9000"
  publicBaseUrl: https://hooks.example.org
database:
  path: /var/lib/hookbridge/hooks.db
`

func TestLoadFile(t *testing.T) {
	cfg, err := config.LoadFile(writeConfigFile(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Homeserver.Domain != "example.org" {
		t.Errorf("domain = %q", cfg.Homeserver.Domain)
	}
	if cfg.Bot.Localpart != "hooks" {
		t.Errorf("localpart = %q", cfg.Bot.Localpart)
	}
	if cfg.Database.Path != "/var/lib/hookbridge/hooks.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.ServerName().String() != "example.org" {
		t.Errorf("ServerName = %q", cfg.ServerName())
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := config.LoadFile(writeConfigFile(t, `
homeserver:
  url: http://localhost:8008
  domain: example.org
web:
  publicBaseUrl: https://hooks.example.org
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Bot.Localpart != "hookbridge" {
		t.Errorf("default localpart = %q, want hookbridge", cfg.Bot.Localpart)
	}
	if cfg.Bot.DisplayName != "Webhook Bridge" {
		t.Errorf("default display name = %q", cfg.Bot.DisplayName)
	}
	if cfg.Web.ListenAddress != ":9000" {
		t.Errorf("default listen address = %q", cfg.Web.ListenAddress)
	}
	if cfg.Database.Path != "hookbridge.db" {
		t.Errorf("default database path = %q", cfg.Database.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with defaults: %v", err)
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := &config.Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"homeserver.url", "homeserver.domain", "bot.localpart", "web.publicBaseUrl", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}

func TestValidateRejectsBadLocalpart(t *testing.T) {
	cfg, err := config.LoadFile(writeConfigFile(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg.Bot.Localpart = "Has Spaces"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid localpart")
	}
}

func TestHookURL(t *testing.T) {
	cfg := config.Default()
	cfg.Web.PublicBaseURL = "https://hooks.example.org/"

	got := cfg.HookURL("AbCdEf")
	want := "https://hooks.example.org/api/v1/matrix/hook/AbCdEf"
	if got != want {
		t.Errorf("HookURL = %q, want %q", got, want)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("HOOKBRIDGE_CONFIG", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error when HOOKBRIDGE_CONFIG is unset")
	}

	t.Setenv("HOOKBRIDGE_CONFIG", writeConfigFile(t, validConfig))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Homeserver.Domain != "example.org" {
		t.Errorf("domain = %q", cfg.Homeserver.Domain)
	}
}
