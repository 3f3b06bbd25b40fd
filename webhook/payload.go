// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/hookbridge/hookbridge/messaging"
)

// DefaultDisplayName is used when a payload names no sender.
const DefaultDisplayName = "Incoming Webhook"

// Format selects how the payload's text is interpreted.
type Format string

// Payload text formats.
const (
	FormatPlain Format = "plain"
	FormatHTML  Format = "html"
)

// MsgType selects the Matrix message kind the payload is delivered as.
type MsgType string

// Payload message kinds.
const (
	MsgTypeRegular MsgType = "regular"
	MsgTypeNotice  MsgType = "notice"
	MsgTypeEmote   MsgType = "emote"
)

// Payload is the JSON body of an inbound webhook delivery. Text is the
// only required field; everything else has a default. Username and
// IconURL are aliases accepted for compatibility with Slack-style
// senders; the primary fields win when both are present.
type Payload struct {
	Text        string  `json:"text"`
	Format      Format  `json:"format,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	Username    string  `json:"username,omitempty"`
	AvatarURL   string  `json:"avatarUrl,omitempty"`
	IconURL     string  `json:"iconUrl,omitempty"`
	Emoji       bool    `json:"emoji"`
	MsgType     MsgType `json:"msgtype,omitempty"`
}

// UnmarshalJSON applies the schema defaults (emoji on, regular message)
// before decoding, so absent fields take their defaults while explicit
// values win. Format has no default: a payload must say whether its
// text is plain or html, and Validate rejects one that doesn't.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	defaulted := alias{
		Emoji:   true,
		MsgType: MsgTypeRegular,
	}
	if err := json.Unmarshal(data, &defaulted); err != nil {
		return err
	}
	*p = Payload(defaulted)
	return nil
}

// Validate rejects payloads that cannot be delivered. It runs before
// any side effect so a malformed payload never provisions an identity
// or touches the store.
func (p *Payload) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("webhook: payload text is required")
	}
	switch p.Format {
	case FormatPlain, FormatHTML:
	case "":
		return fmt.Errorf("webhook: payload format is required")
	default:
		return fmt.Errorf("webhook: unknown format %q", p.Format)
	}
	switch p.MsgType {
	case MsgTypeRegular, MsgTypeNotice, MsgTypeEmote:
	default:
		return fmt.Errorf("webhook: unknown msgtype %q", p.MsgType)
	}
	return nil
}

// ResolvedDisplayName returns the sender name for this delivery:
// DisplayName, else Username, else DefaultDisplayName. Emoji
// substitution applies only when the payload's emoji flag is set.
func (p *Payload) ResolvedDisplayName() string {
	name := p.DisplayName
	if name == "" {
		name = p.Username
	}
	if name == "" {
		name = DefaultDisplayName
	}
	if p.Emoji {
		name = SubstituteEmoji(name)
	}
	return name
}

// ResolvedAvatarURL returns the avatar source URL for this delivery:
// AvatarURL, else IconURL, else empty (no avatar).
func (p *Payload) ResolvedAvatarURL() string {
	if p.AvatarURL != "" {
		return p.AvatarURL
	}
	return p.IconURL
}

// MessageContent composes the Matrix message content for this payload.
// Pure function of the payload: emoji substitution runs first (when
// enabled), then HTML payloads get a plaintext fallback extracted from
// the already-substituted text so glyphs appear in both renderings.
// The six (msgtype, format) combinations are enumerated explicitly.
func (p *Payload) MessageContent() messaging.MessageContent {
	text := p.Text
	if p.Emoji {
		text = SubstituteEmoji(text)
	}

	msgtype := matrixMsgType(p.MsgType)

	switch p.Format {
	case FormatHTML:
		return messaging.MessageContent{
			MsgType:       msgtype,
			Body:          ExtractText(text),
			Format:        messaging.FormatCustomHTML,
			FormattedBody: text,
		}
	default: // FormatPlain; Validate has already rejected anything else
		return messaging.MessageContent{
			MsgType: msgtype,
			Body:    text,
		}
	}
}

// matrixMsgType maps the payload message kind to the wire msgtype.
func matrixMsgType(kind MsgType) string {
	switch kind {
	case MsgTypeNotice:
		return "m.notice"
	case MsgTypeEmote:
		return "m.emote"
	default:
		return "m.text"
	}
}
