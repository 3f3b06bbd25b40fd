// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hookbridge/hookbridge/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The buffer
// is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		HomeserverURL: serverURL,
		AccessToken:   testBuffer(t, "as_token_secret"),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client := testClient(t, "http://localhost:8008")
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{AccessToken: testBuffer(t, "tok")})
		if err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err == nil {
			t.Fatal("expected error for missing token")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{
			HomeserverURL: "://invalid",
			AccessToken:   testBuffer(t, "tok"),
		})
		if err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestRegisterVirtualUser(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/register" {
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
				return
			}
			if got := request.Header.Get("Authorization"); got != "Bearer as_token_secret" {
				t.Errorf("Authorization = %q, want appservice token", got)
			}

			var body map[string]any
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode request body: %v", err)
			}
			if body["type"] != "m.login.application_service" {
				t.Errorf("login type = %v, want m.login.application_service", body["type"])
			}
			if body["username"] != "hooks__abc" {
				t.Errorf("username = %v, want hooks__abc", body["username"])
			}

			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(map[string]any{
				"user_id": "@hooks__abc:test.local",
			})
		}))
		defer server.Close()

		client := testClient(t, server.URL)
		userID, err := client.RegisterVirtualUser(context.Background(), "hooks__abc")
		if err != nil {
			t.Fatalf("RegisterVirtualUser failed: %v", err)
		}
		if userID.String() != "@hooks__abc:test.local" {
			t.Errorf("userID = %q, want @hooks__abc:test.local", userID)
		}
	})

	t.Run("user in use surfaces as MatrixError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(writer).Encode(map[string]any{
				"errcode": "M_USER_IN_USE",
				"error":   "Desired user ID is already taken.",
			})
		}))
		defer server.Close()

		client := testClient(t, server.URL)
		_, err := client.RegisterVirtualUser(context.Background(), "hooks__abc")
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsMatrixError(err, ErrCodeUserInUse) {
			t.Errorf("err = %v, want M_USER_IN_USE", err)
		}
	})

	t.Run("empty localpart rejected", func(t *testing.T) {
		client := testClient(t, "http://localhost:8008")
		if _, err := client.RegisterVirtualUser(context.Background(), ""); err == nil {
			t.Fatal("expected error for empty localpart")
		}
	})
}

func TestServerVersions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/versions" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{
			"versions": []string{"v1.11", "v1.12"},
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	response, err := client.ServerVersions(context.Background())
	if err != nil {
		t.Fatalf("ServerVersions failed: %v", err)
	}
	if len(response.Versions) != 2 {
		t.Errorf("got %d versions, want 2", len(response.Versions))
	}
}

func TestNonJSONErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.ServerVersions(context.Background())
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		t.Errorf("non-JSON error should not be a MatrixError, got %v", err)
	}
	if !strings.Contains(err.Error(), "upstream unavailable") {
		t.Errorf("error should carry the raw body, got %v", err)
	}
}
