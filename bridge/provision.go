// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/messaging"
)

// Provisioner registers virtual users on the homeserver and keeps their
// profiles (display name, avatar) in sync with what a webhook payload or
// the bridge configuration asks for. All operations are idempotent:
// provisioning the same identity twice converges rather than duplicating.
type Provisioner struct {
	client     *messaging.Client
	serverName ref.ServerName
	httpClient *http.Client
	logger     *slog.Logger
}

// ProvisionerConfig configures a Provisioner.
type ProvisionerConfig struct {
	// Client is the appservice Matrix client. Required.
	Client *messaging.Client

	// ServerName is the homeserver's server name, used to form full
	// user IDs from localparts. Required.
	ServerName ref.ServerName

	// HTTPClient fetches avatar images from external URLs. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives avatar sync warnings. Required.
	Logger *slog.Logger
}

// NewProvisioner creates a Provisioner. Panics if a required field is
// missing; configuration is a programming error, not a runtime condition.
func NewProvisioner(config ProvisionerConfig) *Provisioner {
	if config.Client == nil {
		panic("bridge: ProvisionerConfig.Client is required")
	}
	if config.ServerName.IsZero() {
		panic("bridge: ProvisionerConfig.ServerName is required")
	}
	if config.Logger == nil {
		panic("bridge: ProvisionerConfig.Logger is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provisioner{
		client:     config.Client,
		serverName: config.ServerName,
		httpClient: httpClient,
		logger:     config.Logger,
	}
}

// EnsureIdentity registers the virtual user for localpart (treating an
// already-in-use localpart as success), sets its display name, and
// best-effort syncs its avatar from avatarURL. The returned session
// impersonates the virtual user.
//
// Display name failures are fatal: a hook identity that cannot present
// its configured name should not deliver under a stale one. Avatar
// failures are logged and swallowed; a missing avatar does not block
// delivery.
func (p *Provisioner) EnsureIdentity(ctx context.Context, localpart, displayName, avatarURL string) (*messaging.Session, error) {
	_, err := p.client.RegisterVirtualUser(ctx, localpart)
	if err != nil &&
		!messaging.IsMatrixError(err, messaging.ErrCodeUserInUse) &&
		!messaging.IsMatrixError(err, messaging.ErrCodeExclusive) {
		return nil, fmt.Errorf("bridge: registering %q: %w", localpart, err)
	}

	userID := ref.MatrixUserID(localpart, p.serverName)
	session := p.client.Session(userID)

	if err := session.SetDisplayName(ctx, displayName); err != nil {
		return nil, fmt.Errorf("bridge: setting display name for %s: %w", userID, err)
	}

	if avatarURL != "" {
		if err := p.syncAvatar(ctx, session, avatarURL); err != nil {
			p.logger.Warn("avatar sync failed",
				"user_id", userID.String(),
				"avatar_url", avatarURL,
				"error", err)
		}
	}

	return session, nil
}

// syncAvatar fetches the image at avatarURL and uploads it as the
// session user's avatar, unless the current avatar already has the same
// bytes. The byte comparison keeps repeated deliveries from re-uploading
// the same image on every request.
func (p *Provisioner) syncAvatar(ctx context.Context, session *messaging.Session, avatarURL string) error {
	contentType, body, err := p.fetchAvatar(ctx, avatarURL)
	if err != nil {
		return err
	}

	currentURI, err := session.GetAvatarURL(ctx, session.UserID())
	if err != nil {
		return fmt.Errorf("reading current avatar: %w", err)
	}
	if currentURI != "" {
		current, _, err := session.DownloadMedia(ctx, currentURI)
		if err == nil && bytes.Equal(current, body) {
			return nil
		}
		// Download failure means we cannot prove the avatar is current;
		// fall through and upload.
	}

	contentURI, err := session.UploadMedia(ctx, contentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uploading avatar: %w", err)
	}
	if err := session.SetAvatarURL(ctx, contentURI); err != nil {
		return fmt.Errorf("setting avatar: %w", err)
	}
	return nil
}

// fetchAvatar downloads an avatar image from an external URL. The
// response must be 2xx with a parseable Content-Type and a non-empty
// body; anything else is an error the caller logs.
func (p *Provisioner) fetchAvatar(ctx context.Context, avatarURL string) (contentType string, body []byte, err error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("building avatar request: %w", err)
	}
	response, err := p.httpClient.Do(request)
	if err != nil {
		return "", nil, fmt.Errorf("fetching avatar: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", nil, fmt.Errorf("fetching avatar: unexpected status %d", response.StatusCode)
	}

	contentType = response.Header.Get("Content-Type")
	if contentType == "" {
		return "", nil, fmt.Errorf("avatar response has no Content-Type")
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		return "", nil, fmt.Errorf("parsing avatar Content-Type %q: %w", contentType, err)
	}

	body, err = io.ReadAll(io.LimitReader(response.Body, maxAvatarBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("reading avatar body: %w", err)
	}
	if len(body) == 0 {
		return "", nil, fmt.Errorf("avatar response body is empty")
	}
	if len(body) > maxAvatarBytes {
		return "", nil, fmt.Errorf("avatar exceeds %d bytes", maxAvatarBytes)
	}
	return contentType, body, nil
}

// maxAvatarBytes bounds avatar downloads. Homeservers reject media well
// below this anyway.
const maxAvatarBytes = 8 << 20
