// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hookbridge/hookbridge/lib/hookstore"
	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/messaging"
	"github.com/hookbridge/hookbridge/webhook"
)

// ErrWebhookNotFound reports a delivery aimed at a webhook id with no
// store entry. The HTTP handler maps it to a 404; everything else a
// delivery can fail with maps to a 500.
var ErrWebhookNotFound = errors.New("bridge: webhook not found")

// Deliverer turns validated webhook payloads into Matrix room messages,
// provisioning the hook's virtual identity on the way.
type Deliverer struct {
	store        *hookstore.Store
	provisioner  *Provisioner
	botSession   *messaging.Session
	botLocalpart string
	logger       *slog.Logger
}

// DelivererConfig configures a Deliverer. All fields are required.
type DelivererConfig struct {
	// Store resolves webhook ids to their target room and creator.
	Store *hookstore.Store

	// Provisioner registers and profiles the per-hook virtual identity.
	Provisioner *Provisioner

	// BotSession is the primary bot's session, used to invite hook
	// identities into rooms the bot already occupies.
	BotSession *messaging.Session

	// BotLocalpart is the primary bot's localpart, the prefix every
	// derived hook localpart extends.
	BotLocalpart string

	Logger *slog.Logger
}

// NewDeliverer creates a Deliverer. Panics on missing configuration.
func NewDeliverer(config DelivererConfig) *Deliverer {
	if config.Store == nil {
		panic("bridge: DelivererConfig.Store is required")
	}
	if config.Provisioner == nil {
		panic("bridge: DelivererConfig.Provisioner is required")
	}
	if config.BotSession == nil {
		panic("bridge: DelivererConfig.BotSession is required")
	}
	if config.BotLocalpart == "" {
		panic("bridge: DelivererConfig.BotLocalpart is required")
	}
	if config.Logger == nil {
		panic("bridge: DelivererConfig.Logger is required")
	}
	return &Deliverer{
		store:        config.Store,
		provisioner:  config.Provisioner,
		botSession:   config.BotSession,
		botLocalpart: config.BotLocalpart,
		logger:       config.Logger,
	}
}

// DeriveLocalpart returns the localpart of the virtual identity that
// delivers for webhookID: the primary localpart, a double underscore,
// and the first 16 bytes of SHA-256(webhookID) in hex. The derivation is
// deterministic so every delivery for a hook lands on the same Matrix
// user, and the double underscore keeps derived identities inside the
// appservice's exclusive namespace.
func DeriveLocalpart(primary, webhookID string) string {
	sum := sha256.Sum256([]byte(webhookID))
	return primary + "__" + hex.EncodeToString(sum[:16])
}

// Deliver looks up webhookID, provisions its virtual identity with the
// payload's resolved profile, joins the identity into the target room if
// needed, and sends the composed message. The payload must already be
// validated.
func (d *Deliverer) Deliver(ctx context.Context, webhookID string, payload *webhook.Payload) error {
	hook, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return fmt.Errorf("bridge: looking up webhook: %w", err)
	}
	if hook == nil {
		return ErrWebhookNotFound
	}

	localpart := DeriveLocalpart(d.botLocalpart, hook.ID)
	session, err := d.provisioner.EnsureIdentity(ctx,
		localpart, payload.ResolvedDisplayName(), payload.ResolvedAvatarURL())
	if err != nil {
		return err
	}

	if err := d.ensureJoined(ctx, session, hook.RoomID); err != nil {
		return err
	}

	eventID, err := session.SendMessage(ctx, hook.RoomID, payload.MessageContent())
	if err != nil {
		return fmt.Errorf("bridge: sending message to %s: %w", hook.RoomID, err)
	}
	d.logger.Info("delivered webhook message",
		"webhook_id", hook.ID,
		"room_id", hook.RoomID.String(),
		"sender", session.UserID().String(),
		"event_id", eventID)
	return nil
}

// ensureJoined makes the hook identity a member of roomID, using the
// primary bot to invite it first. Concurrent deliveries race on the
// invite and join; "already invited" and "already joined" responses from
// the homeserver are success.
func (d *Deliverer) ensureJoined(ctx context.Context, session *messaging.Session, roomID ref.RoomID) error {
	joined, err := session.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("bridge: listing hook identity rooms: %w", err)
	}
	if slices.Contains(joined, roomID) {
		return nil
	}

	if err := d.botSession.InviteUser(ctx, roomID, session.UserID()); err != nil {
		// The homeserver rejects an invite for a user who is already
		// invited or joined with M_FORBIDDEN. Either state lets the
		// join below succeed, so keep going.
		if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
			return fmt.Errorf("bridge: inviting %s to %s: %w", session.UserID(), roomID, err)
		}
	}
	if _, err := session.JoinRoom(ctx, roomID); err != nil {
		return fmt.Errorf("bridge: joining %s as %s: %w", roomID, session.UserID(), err)
	}
	return nil
}
