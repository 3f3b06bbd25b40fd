// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/messaging"
)

// ResolveAdminRoom finds or creates a private room between the session
// user (the primary bot) and counterparty, used to deliver webhook URLs
// out of band from the room the hook posts into.
//
// A joined room qualifies when it is not public, has at most two members
// counting invites, and contains the counterparty. Counting pending
// invites means a room created on a previous call is found again even
// before the counterparty accepts, so repeated "!webhook" commands reuse
// one room instead of piling up invitations. Rooms whose join rules or
// member list cannot be read are skipped, not fatal: a single opaque room
// should not block resolution.
func ResolveAdminRoom(ctx context.Context, session *messaging.Session, counterparty ref.UserID, logger *slog.Logger) (ref.RoomID, error) {
	rooms, err := session.JoinedRooms(ctx)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("bridge: listing joined rooms: %w", err)
	}

	for _, roomID := range rooms {
		if isPublicRoom(ctx, session, roomID) {
			continue
		}
		members, err := session.GetRoomMembers(ctx, roomID)
		if err != nil {
			logger.Debug("skipping room with unreadable members",
				"room_id", roomID.String(), "error", err)
			continue
		}
		count := 0
		found := false
		for _, member := range members {
			if member.Membership != "join" && member.Membership != "invite" {
				continue
			}
			count++
			if member.UserID == counterparty {
				found = true
			}
		}
		if count > 2 || !found {
			continue
		}
		return roomID, nil
	}

	response, err := session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Preset:   "private_chat",
		IsDirect: true,
		Invite:   []ref.UserID{counterparty},
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("bridge: creating admin room with %s: %w", counterparty, err)
	}
	logger.Info("created admin room",
		"room_id", response.RoomID.String(),
		"counterparty", counterparty.String())
	return response.RoomID, nil
}

// isPublicRoom reports whether the room's m.room.join_rules state says
// "public". Unreadable join rules count as public so the room is skipped
// rather than considered for private conversation.
func isPublicRoom(ctx context.Context, session *messaging.Session, roomID ref.RoomID) bool {
	raw, err := session.GetStateEvent(ctx, roomID, "m.room.join_rules", "")
	if err != nil {
		return true
	}
	var content messaging.JoinRulesContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return true
	}
	return content.JoinRule == "public"
}
