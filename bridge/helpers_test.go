// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hookbridge/hookbridge/lib/hookstore"
	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/lib/secret"
	"github.com/hookbridge/hookbridge/messaging"
)

var testServerName = ref.MustParseServerName("test.local")

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeHomeserver is an httptest server that tests register Matrix
// endpoints on. Unregistered endpoints 404, which surfaces as a request
// error in the code under test.
type fakeHomeserver struct {
	t   *testing.T
	mux *http.ServeMux

	// URL is the server's base URL.
	URL string
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &fakeHomeserver{t: t, mux: mux, URL: server.URL}
}

func (f *fakeHomeserver) handle(pattern string, handler http.HandlerFunc) {
	f.mux.HandleFunc(pattern, handler)
}

// handleRegister accepts any registration, echoing back a user ID built
// from the submitted localpart.
func (f *fakeHomeserver) handleRegister() {
	f.handle("POST /_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			f.respondError(w, http.StatusBadRequest, "M_BAD_JSON", err.Error())
			return
		}
		f.respondJSON(w, map[string]string{
			"user_id": "@" + request.Username + ":" + testServerName.String(),
		})
	})
}

// handleProfile accepts display name and avatar writes without recording
// them, for tests that exercise other endpoints.
func (f *fakeHomeserver) handleProfile() {
	f.handle("PUT /_matrix/client/v3/profile/{user}/displayname", func(w http.ResponseWriter, r *http.Request) {
		f.respondJSON(w, map[string]string{})
	})
	f.handle("GET /_matrix/client/v3/profile/{user}/avatar_url", func(w http.ResponseWriter, r *http.Request) {
		f.respondError(w, http.StatusNotFound, "M_NOT_FOUND", "no avatar")
	})
}

func (f *fakeHomeserver) respondJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		f.t.Errorf("encoding fake response: %v", err)
	}
}

func (f *fakeHomeserver) respondError(w http.ResponseWriter, status int, errcode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"errcode": errcode,
		"error":   message,
	}); err != nil {
		f.t.Errorf("encoding fake error: %v", err)
	}
}

func newTestClient(t *testing.T, serverURL string) *messaging.Client {
	t.Helper()
	token, err := secret.NewFromBytes([]byte("as_token_secret"))
	if err != nil {
		t.Fatalf("creating token buffer: %v", err)
	}
	t.Cleanup(func() { token.Close() })
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: serverURL,
		AccessToken:   token,
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func newTestProvisioner(t *testing.T, client *messaging.Client) *Provisioner {
	t.Helper()
	return NewProvisioner(ProvisionerConfig{
		Client:     client,
		ServerName: testServerName,
		Logger:     discardLogger(),
	})
}

func newTestStore(t *testing.T) *hookstore.Store {
	t.Helper()
	store, err := hookstore.Open(hookstore.Config{
		Path:     filepath.Join(t.TempDir(), "hooks.db"),
		PoolSize: 2,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
