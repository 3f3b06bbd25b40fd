// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/hookbridge/hookbridge/lib/netutil"
	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver (e.g., "http://localhost:8008").
	HomeserverURL string
	// AccessToken is the appservice as_token from the registration file.
	// The Client reads from the buffer but does not close it; the caller
	// retains ownership.
	AccessToken *secret.Buffer
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an appservice-authenticated Matrix client. It holds the
// homeserver URL, HTTP transport, and the appservice access token,
// shared across all Sessions derived from it.
type Client struct {
	baseURL    string
	asToken    *secret.Buffer
	httpClient *http.Client
	logger     *slog.Logger

	// transactionCounter issues event transaction IDs. It lives on the
	// Client, not the Session, because the homeserver deduplicates
	// transaction IDs per access token: sessions are minted per
	// delivery, and per-session counters would restart at the same
	// value and collide within a millisecond.
	transactionCounter atomic.Int64
}

// NewClient creates a new appservice Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	if config.AccessToken == nil {
		return nil, fmt.Errorf("messaging: AccessToken is required")
	}

	// Validate the URL structure. We store the string form (with trailing
	// slash stripped) and build request URLs by direct concatenation. This
	// avoids double-encoding issues with Go's url.URL.String(), which
	// re-encodes Path even when RawPath is set if it doesn't consider
	// RawPath a valid encoding of Path.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		asToken:    config.AccessToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// ServerVersions returns the Matrix protocol versions and unstable features
// supported by the homeserver. This is an unauthenticated endpoint — useful
// for checking whether the homeserver is reachable and what it supports.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", ref.UserID{}, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: server versions failed: %w", err)
	}

	var response ServerVersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse versions response: %w", err)
	}
	return &response, nil
}

// RegisterVirtualUser registers a new virtual user inside the
// appservice's exclusive namespace using the m.login.application_service
// flow. The homeserver validates the localpart against the namespaces in
// the registration file.
//
// Registration is idempotent from the bridge's point of view: if the
// user already exists, the homeserver answers M_USER_IN_USE (or
// M_EXCLUSIVE on some implementations), which the caller should treat
// as success (see IsMatrixError).
func (c *Client) RegisterVirtualUser(ctx context.Context, localpart string) (ref.UserID, error) {
	if localpart == "" {
		return ref.UserID{}, fmt.Errorf("messaging: localpart is required for registration")
	}

	request := map[string]any{
		"type":          "m.login.application_service",
		"username":      localpart,
		"inhibit_login": true,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", ref.UserID{}, request)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: register %q failed: %w", localpart, err)
	}

	var response RegisterResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse register response: %w", err)
	}

	c.logger.Info("registered virtual user", "user_id", response.UserID)
	return response.UserID, nil
}

// Session returns a Session that performs all operations as the given
// virtual user. The homeserver sees the appservice token plus a user_id
// query parameter and attributes each action to that user. Sessions are
// lightweight and safe to create per request.
func (c *Client) Session(userID ref.UserID) *Session {
	return &Session{
		client: c,
		userID: userID,
	}
}

// doRequest performs an HTTP request to the homeserver and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *MatrixError.
// impersonate, when non-zero, is sent as the user_id query parameter so
// the homeserver performs the operation as that virtual user.
// query may be omitted for endpoints without query parameters.
func (c *Client) doRequest(ctx context.Context, method, path string, impersonate ref.UserID, requestBody any, query ...url.Values) ([]byte, error) {
	values := url.Values{}
	if len(query) > 0 && query[0] != nil {
		for key, entries := range query[0] {
			values[key] = entries
		}
	}
	if !impersonate.IsZero() {
		values.Set("user_id", impersonate.String())
	}

	requestURL := c.baseURL + path
	if len(values) > 0 {
		requestURL += "?" + values.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.asToken.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		// Server returned non-JSON error. This should not happen with a
		// spec-compliant server, but fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}

// doRequestRaw performs an HTTP request with a raw body (media upload) or
// a raw response (media download). Returns the response body and its
// Content-Type header.
func (c *Client) doRequestRaw(ctx context.Context, method, path string, impersonate ref.UserID, contentType string, body io.Reader) ([]byte, string, error) {
	requestURL := c.baseURL + path
	if !impersonate.IsZero() {
		values := url.Values{}
		values.Set("user_id", impersonate.String())
		requestURL += "?" + values.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, "", fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.Header.Set("Authorization", "Bearer "+c.asToken.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, response.Header.Get("Content-Type"), nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, "", fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return nil, "", &matrixErr
}
