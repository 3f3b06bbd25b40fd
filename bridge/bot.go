// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/hookbridge/hookbridge/lib/hookstore"
	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/lib/service"
	"github.com/hookbridge/hookbridge/messaging"
)

// commandPrefix triggers webhook creation when a room message body
// starts with it.
const commandPrefix = "!webhook"

// Bot runs the primary bot's side of the bridge: it accepts room
// invites from sync responses and answers "!webhook" commands by
// creating a webhook and privately delivering its URL.
type Bot struct {
	session         *messaging.Session
	store           *hookstore.Store
	hookURL         func(webhookID string) string
	sampleAvatarURL string
	logger          *slog.Logger
}

// BotConfig configures a Bot.
type BotConfig struct {
	// Session is the primary bot's Matrix session. Required.
	Session *messaging.Session

	// Store persists created webhooks. Required.
	Store *hookstore.Store

	// HookURL renders a webhook id into its public POST URL. Required.
	HookURL func(webhookID string) string

	// SampleAvatarURL appears in the example payload the bot sends to
	// new webhook owners. May be empty.
	SampleAvatarURL string

	Logger *slog.Logger
}

// NewBot creates a Bot. Panics on missing configuration.
func NewBot(config BotConfig) *Bot {
	if config.Session == nil {
		panic("bridge: BotConfig.Session is required")
	}
	if config.Store == nil {
		panic("bridge: BotConfig.Store is required")
	}
	if config.HookURL == nil {
		panic("bridge: BotConfig.HookURL is required")
	}
	if config.Logger == nil {
		panic("bridge: BotConfig.Logger is required")
	}
	return &Bot{
		session:         config.Session,
		store:           config.Store,
		hookURL:         config.HookURL,
		sampleAvatarURL: config.SampleAvatarURL,
		logger:          config.Logger,
	}
}

// HandleSync processes one sync response: pending invites are accepted
// and webhook commands in joined-room timelines are answered. Per-event
// failures are logged and never stop the loop; a bad command from one
// room must not stall the bridge.
func (b *Bot) HandleSync(ctx context.Context, response *messaging.SyncResponse) {
	service.AcceptInvites(ctx, b.session, response.Rooms.Invite, b.logger)

	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			if !b.isCommand(event) {
				continue
			}
			if err := b.handleCommand(ctx, roomID, event); err != nil {
				b.logger.Error("webhook command failed",
					"room_id", roomID.String(),
					"sender", event.Sender.String(),
					"error", err)
			}
		}
	}
}

// isCommand reports whether event is a text message from another user
// whose body starts with the command prefix.
func (b *Bot) isCommand(event messaging.Event) bool {
	if event.Type != "m.room.message" || event.Sender == b.session.UserID() {
		return false
	}
	msgtype, _ := event.Content["msgtype"].(string)
	if msgtype != "m.text" {
		return false
	}
	body, _ := event.Content["body"].(string)
	return strings.HasPrefix(body, commandPrefix)
}

// handleCommand creates a webhook for the room the command was sent in
// and delivers its URL to an admin room shared with the sender. Any text
// after "!webhook" becomes the webhook's label.
func (b *Bot) handleCommand(ctx context.Context, roomID ref.RoomID, event messaging.Event) error {
	body, _ := event.Content["body"].(string)
	label := strings.TrimSpace(strings.TrimPrefix(body, commandPrefix))

	b.logger.Info("creating webhook",
		"room_id", roomID.String(),
		"sender", event.Sender.String())

	adminRoom, err := ResolveAdminRoom(ctx, b.session, event.Sender, b.logger)
	if err != nil {
		return err
	}

	hook, err := b.store.CreateWebhook(ctx, roomID, event.Sender, label)
	if err != nil {
		return fmt.Errorf("bridge: creating webhook: %w", err)
	}

	notice := hookInstructions(b.hookURL(hook.ID), b.sampleAvatarURL)
	if _, err := b.session.SendMessage(ctx, adminRoom, notice); err != nil {
		return fmt.Errorf("bridge: sending instructions to %s: %w", adminRoom, err)
	}

	confirmation := messaging.NewNoticeMessage(
		"I've sent you a private message with your hook information")
	if _, err := b.session.SendMessage(ctx, roomID, confirmation); err != nil {
		return fmt.Errorf("bridge: confirming in %s: %w", roomID, err)
	}
	return nil
}

// hookInstructions renders the notice that tells a webhook owner their
// URL and the request shape it accepts, in both plain and HTML form.
func hookInstructions(hookURL, sampleAvatarURL string) messaging.MessageContent {
	sample := fmt.Sprintf(`{
  "text": "Hello world!",
  "format": "plain",
  "displayName": "My Cool Webhook",
  "avatarUrl": %q
}`, sampleAvatarURL)

	plain := fmt.Sprintf(
		"Here's your webhook url: %s\nTo send a message, POST the following JSON to that URL:\n%s",
		hookURL, sample)
	formatted := fmt.Sprintf(
		`Here's your webhook url: <a href="%[1]s">%[1]s</a><br>To send a message, POST the following JSON to that URL:<pre><code>%[2]s</code></pre>`,
		html.EscapeString(hookURL), html.EscapeString(sample))

	return messaging.NewHTMLNotice(plain, formatted)
}
