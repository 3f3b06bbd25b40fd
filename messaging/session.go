// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hookbridge/hookbridge/lib/ref"
)

// Session performs Matrix operations as one virtual user. It wraps the
// parent Client's appservice token with a user_id query parameter, so
// the homeserver attributes every action to that user. Sessions are
// lightweight and safe to create in large numbers — one per webhook
// delivery is fine.
type Session struct {
	client *Client
	userID ref.UserID
}

// UserID returns the fully-qualified Matrix user ID this session acts as.
func (s *Session) UserID() ref.UserID {
	return s.userID
}

// SetDisplayName sets the session user's profile display name.
func (s *Session) SetDisplayName(ctx context.Context, displayName string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/displayname"
	_, err := s.client.doRequest(ctx, http.MethodPut, path, s.userID, DisplayNameResponse{DisplayName: displayName})
	if err != nil {
		return fmt.Errorf("messaging: set display name for %q failed: %w", s.userID, err)
	}
	return nil
}

// SetAvatarURL sets the session user's profile avatar to an MXC URI
// previously returned by UploadMedia.
func (s *Session) SetAvatarURL(ctx context.Context, contentURI string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/avatar_url"
	_, err := s.client.doRequest(ctx, http.MethodPut, path, s.userID, AvatarURLResponse{AvatarURL: contentURI})
	if err != nil {
		return fmt.Errorf("messaging: set avatar for %q failed: %w", s.userID, err)
	}
	return nil
}

// GetAvatarURL fetches a user's profile avatar MXC URI. Returns an
// empty string (not an error) when the user has no avatar set.
func (s *Session) GetAvatarURL(ctx context.Context, userID ref.UserID) (string, error) {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID.String()) + "/avatar_url"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.userID, nil)
	if err != nil {
		if IsMatrixError(err, ErrCodeNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("messaging: get avatar for %q failed: %w", userID, err)
	}

	var response AvatarURLResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse avatar response: %w", err)
	}
	return response.AvatarURL, nil
}

// UploadMedia uploads content to the homeserver's media repository.
// Returns the MXC URI (e.g., "mxc://example.org/abc123").
func (s *Session) UploadMedia(ctx context.Context, contentType string, body io.Reader) (string, error) {
	responseBody, _, err := s.client.doRequestRaw(ctx, http.MethodPost,
		"/_matrix/media/v3/upload", s.userID, contentType, body)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}

	var response UploadResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	return response.ContentURI, nil
}

// DownloadMedia fetches content from the media repository by MXC URI.
// Returns the raw bytes and the Content-Type reported by the server.
func (s *Session) DownloadMedia(ctx context.Context, contentURI string) ([]byte, string, error) {
	serverName, mediaID, err := splitContentURI(contentURI)
	if err != nil {
		return nil, "", err
	}

	path := "/_matrix/client/v1/media/download/" +
		url.PathEscape(serverName) + "/" + url.PathEscape(mediaID)
	body, contentType, err := s.client.doRequestRaw(ctx, http.MethodGet, path, s.userID, "", nil)
	if err != nil {
		return nil, "", fmt.Errorf("messaging: media download %q failed: %w", contentURI, err)
	}
	return body, contentType, nil
}

// CreateRoom creates a new Matrix room with the session user as creator.
func (s *Session) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", s.userID, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: create room failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}

	s.client.logger.Info("created matrix room",
		"room_id", response.RoomID,
		"creator", s.userID,
	)
	return &response, nil
}

// InviteUser invites a user to a room.
func (s *Session) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/invite", url.PathEscape(roomID.String()))
	_, err := s.client.doRequest(ctx, http.MethodPost, path, s.userID, InviteRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("messaging: invite %q to %q failed: %w", userID, roomID, err)
	}
	return nil
}

// JoinRoom joins a room by ID. Returns the room ID.
func (s *Session) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.userID, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the session user has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", s.userID, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// GetRoomMembers returns the members of a room.
func (s *Session) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/members", url.PathEscape(roomID.String()))
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.userID, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room members for %q failed: %w", roomID, err)
	}

	var response RoomMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room members response: %w", err)
	}

	members := make([]RoomMember, len(response.Chunk))
	for index, event := range response.Chunk {
		members[index] = RoomMember{
			UserID:      event.StateKey,
			DisplayName: event.Content.DisplayName,
			Membership:  event.Content.Membership,
			AvatarURL:   event.Content.AvatarURL,
		}
	}
	return members, nil
}

// GetStateEvent fetches a specific state event's content from a room.
// Returns the raw JSON content for the caller to unmarshal.
//
// If the state event does not exist, returns a *MatrixError with code M_NOT_FOUND.
func (s *Session) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.userID, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get state event %s/%s in %q failed: %w", eventType, stateKey, roomID, err)
	}
	return json.RawMessage(body), nil
}

// SendMessage sends an m.room.message event to a room. Returns the
// event ID of the sent message.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (string, error) {
	return s.SendEvent(ctx, roomID, "m.room.message", content)
}

// SendEvent sends an event of any type to a room.
// Uses Matrix's idempotent PUT with a transaction ID.
// Returns the event ID.
func (s *Session) SendEvent(ctx context.Context, roomID ref.RoomID, eventType string, content any) (string, error) {
	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.userID, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// Sync performs an incremental sync with the homeserver.
// For initial sync, leave options.Since empty.
// For long-polling, set options.Timeout to the desired wait in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	if options.FullState {
		query.Set("full_state", "true")
	}

	path := "/_matrix/client/v3/sync"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.userID, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a sync error to force
// the next request to establish a fresh TCP connection.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// nextTransactionID generates a unique transaction ID for idempotent event
// sending. The counter is shared across every Session of the parent Client
// because the homeserver deduplicates per access token; the millisecond
// timestamp keeps IDs unique across process restarts.
func (s *Session) nextTransactionID() string {
	counter := s.client.transactionCounter.Add(1)
	return fmt.Sprintf("hookbridge-%d-%d", time.Now().UnixMilli(), counter)
}

// splitContentURI splits an mxc://server/mediaID URI into its parts.
func splitContentURI(contentURI string) (serverName, mediaID string, err error) {
	rest, ok := strings.CutPrefix(contentURI, "mxc://")
	if !ok {
		return "", "", fmt.Errorf("messaging: %q is not an mxc URI", contentURI)
	}
	serverName, mediaID, ok = strings.Cut(rest, "/")
	if !ok || serverName == "" || mediaID == "" {
		return "", "", fmt.Errorf("messaging: malformed mxc URI %q", contentURI)
	}
	return serverName, mediaID, nil
}
