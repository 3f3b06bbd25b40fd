// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package appservice_test

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/hookbridge/hookbridge/lib/appservice"
	"github.com/hookbridge/hookbridge/lib/ref"
)

var testServer = ref.MustParseServerName("example.org")

func TestGenerate(t *testing.T) {
	registration, err := appservice.Generate("hooks", testServer)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if registration.ID == "" || registration.ASToken == "" || registration.HSToken == "" {
		t.Errorf("registration has empty identifiers: %+v", registration)
	}
	if registration.ASToken == registration.HSToken {
		t.Error("as_token and hs_token must differ")
	}
	if registration.RateLimited {
		t.Error("appservice users must not be rate limited")
	}
	if registration.SenderLocalpart != "hooks" {
		t.Errorf("sender_localpart = %q", registration.SenderLocalpart)
	}
}

func TestGenerateRejectsInvalidLocalpart(t *testing.T) {
	if _, err := appservice.Generate("Not Valid", testServer); err == nil {
		t.Fatal("expected error for invalid localpart")
	}
}

func TestUserNamespaceRegex(t *testing.T) {
	registration, err := appservice.Generate("hooks", testServer)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(registration.Namespaces.Users) != 1 {
		t.Fatalf("got %d user namespaces, want 1", len(registration.Namespaces.Users))
	}

	namespace := registration.Namespaces.Users[0]
	if !namespace.Exclusive {
		t.Error("user namespace must be exclusive")
	}

	pattern, err := regexp.Compile("^" + namespace.Regex + "$")
	if err != nil {
		t.Fatalf("namespace regex does not compile: %v", err)
	}

	matching := []string{
		"@hooks:example.org",
		"@hooks__0123abcd0123abcd0123abcd0123abcd:example.org",
	}
	for _, userID := range matching {
		if !pattern.MatchString(userID) {
			t.Errorf("namespace should cover %q", userID)
		}
	}

	nonMatching := []string{
		"@alice:example.org",
		"@hooksmith:example.org",
		"@hooks:other.org",
	}
	for _, userID := range nonMatching {
		if pattern.MatchString(userID) {
			t.Errorf("namespace should not cover %q", userID)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	registration, err := appservice.Generate("hooks", testServer)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "registration.yaml")
	if err := registration.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := appservice.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != registration.ID {
		t.Errorf("id = %q, want %q", loaded.ID, registration.ID)
	}
	if loaded.ASToken != registration.ASToken {
		t.Errorf("as_token = %q, want %q", loaded.ASToken, registration.ASToken)
	}
	if loaded.HSToken != registration.HSToken {
		t.Errorf("hs_token = %q, want %q", loaded.HSToken, registration.HSToken)
	}
	if loaded.RateLimited != registration.RateLimited {
		t.Errorf("rate_limited = %v, want %v", loaded.RateLimited, registration.RateLimited)
	}
	if loaded.SenderLocalpart != registration.SenderLocalpart {
		t.Errorf("sender_localpart = %q", loaded.SenderLocalpart)
	}
	if len(loaded.Namespaces.Users) != 1 || loaded.Namespaces.Users[0] != registration.Namespaces.Users[0] {
		t.Errorf("namespaces did not round trip: %+v", loaded.Namespaces)
	}
}

func TestLoadRejectsIncompleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registration.yaml")
	registration := &appservice.Registration{ID: "x", HSToken: "y"}
	if err := registration.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := appservice.Load(path); err == nil {
		t.Fatal("expected error for registration without as_token")
	}
}
