// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hookbridge/hookbridge/lib/hookstore"
	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/messaging"
	"github.com/hookbridge/hookbridge/webhook"
)

func TestDeriveLocalpart(t *testing.T) {
	first := DeriveLocalpart("hooks", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	again := DeriveLocalpart("hooks", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	other := DeriveLocalpart("hooks", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	if first != again {
		t.Errorf("derivation is not deterministic: %q vs %q", first, again)
	}
	if first == other {
		t.Error("distinct webhook ids derived the same localpart")
	}

	prefix, suffix, found := strings.Cut(first, "__")
	if !found || prefix != "hooks" {
		t.Fatalf("localpart %q does not extend the primary with __", first)
	}
	if len(suffix) != 32 {
		t.Errorf("suffix length = %d, want 32 hex chars", len(suffix))
	}
	if _, err := hex.DecodeString(suffix); err != nil {
		t.Errorf("suffix %q is not hex: %v", suffix, err)
	}
}

// deliveryFixture wires a fake homeserver with everything a delivery
// touches and records the invite, join, and send calls.
type deliveryFixture struct {
	hs        *fakeHomeserver
	store     *hookstore.Store
	deliverer *Deliverer
	hook      *hookstore.Webhook

	joinedRooms []string // what the hook identity's joined_rooms returns
	inviteCode  string   // non-empty: invite fails with this errcode

	invites atomic.Int64
	joins   atomic.Int64
	sends   atomic.Int64

	sentType    string
	sentContent messaging.MessageContent
}

func newDeliveryFixture(t *testing.T) *deliveryFixture {
	t.Helper()
	fixture := &deliveryFixture{hs: newFakeHomeserver(t), store: newTestStore(t)}

	hook, err := fixture.store.CreateWebhook(context.Background(),
		ref.MustParseRoomID("!target:test.local"), counterparty, "ci")
	if err != nil {
		t.Fatalf("creating fixture webhook: %v", err)
	}
	fixture.hook = hook

	hs := fixture.hs
	hs.handleRegister()
	hs.handleProfile()
	hs.handle("GET /_matrix/client/v3/joined_rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms := fixture.joinedRooms
		if rooms == nil {
			rooms = []string{}
		}
		hs.respondJSON(w, map[string]any{"joined_rooms": rooms})
	})
	hs.handle("POST /_matrix/client/v3/rooms/{room}/invite", func(w http.ResponseWriter, r *http.Request) {
		fixture.invites.Add(1)
		if got := r.URL.Query().Get("user_id"); got != botUserID.String() {
			t.Errorf("invite sent as %q, want the primary bot", got)
		}
		if fixture.inviteCode != "" {
			hs.respondError(w, http.StatusForbidden, fixture.inviteCode, "forbidden")
			return
		}
		hs.respondJSON(w, map[string]string{})
	})
	hs.handle("POST /_matrix/client/v3/join/{room}", func(w http.ResponseWriter, r *http.Request) {
		fixture.joins.Add(1)
		hs.respondJSON(w, map[string]string{"room_id": r.PathValue("room")})
	})
	hs.handle("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", func(w http.ResponseWriter, r *http.Request) {
		fixture.sends.Add(1)
		fixture.sentType = r.PathValue("type")
		if got := r.PathValue("room"); got != "!target:test.local" {
			t.Errorf("message sent to %q", got)
		}
		expectedSender := "@" + DeriveLocalpart("hooks", hook.ID) + ":test.local"
		if got := r.URL.Query().Get("user_id"); got != expectedSender {
			t.Errorf("message sent as %q, want %q", got, expectedSender)
		}
		if err := json.NewDecoder(r.Body).Decode(&fixture.sentContent); err != nil {
			t.Errorf("decoding sent content: %v", err)
		}
		hs.respondJSON(w, map[string]string{"event_id": "$evt"})
	})

	client := newTestClient(t, hs.URL)
	fixture.deliverer = NewDeliverer(DelivererConfig{
		Store:        fixture.store,
		Provisioner:  newTestProvisioner(t, client),
		BotSession:   client.Session(botUserID),
		BotLocalpart: "hooks",
		Logger:       discardLogger(),
	})
	return fixture
}

func (f *deliveryFixture) payload(t *testing.T, body string) *webhook.Payload {
	t.Helper()
	var payload webhook.Payload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if err := payload.Validate(); err != nil {
		t.Fatalf("fixture payload invalid: %v", err)
	}
	return &payload
}

func TestDeliverUnknownWebhook(t *testing.T) {
	fixture := newDeliveryFixture(t)
	err := fixture.deliverer.Deliver(context.Background(),
		"00000000000000000000000000000000", fixture.payload(t, `{"text":"hi","format":"plain"}`))
	if !errors.Is(err, ErrWebhookNotFound) {
		t.Fatalf("err = %v, want ErrWebhookNotFound", err)
	}
	if fixture.sends.Load() != 0 {
		t.Error("message sent for an unknown webhook")
	}
}

func TestDeliverInvitesAndJoins(t *testing.T) {
	fixture := newDeliveryFixture(t)
	payload := fixture.payload(t, `{"text":"build passed","format":"plain","displayName":"CI"}`)

	if err := fixture.deliverer.Deliver(context.Background(), fixture.hook.ID, payload); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if fixture.invites.Load() != 1 || fixture.joins.Load() != 1 {
		t.Errorf("invites = %d, joins = %d, want 1 each",
			fixture.invites.Load(), fixture.joins.Load())
	}
	if fixture.sentType != "m.room.message" {
		t.Errorf("sent event type = %q", fixture.sentType)
	}
	if fixture.sentContent.MsgType != "m.text" || fixture.sentContent.Body != "build passed" {
		t.Errorf("sent content = %+v", fixture.sentContent)
	}
}

func TestDeliverSkipsHandshakeWhenJoined(t *testing.T) {
	fixture := newDeliveryFixture(t)
	fixture.joinedRooms = []string{"!target:test.local"}

	if err := fixture.deliverer.Deliver(context.Background(),
		fixture.hook.ID, fixture.payload(t, `{"text":"hi","format":"plain"}`)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if fixture.invites.Load() != 0 || fixture.joins.Load() != 0 {
		t.Errorf("invites = %d, joins = %d, want 0 each for a joined identity",
			fixture.invites.Load(), fixture.joins.Load())
	}
	if fixture.sends.Load() != 1 {
		t.Errorf("sends = %d, want 1", fixture.sends.Load())
	}
}

func TestDeliverToleratesInviteRace(t *testing.T) {
	fixture := newDeliveryFixture(t)
	fixture.inviteCode = "M_FORBIDDEN"

	if err := fixture.deliverer.Deliver(context.Background(),
		fixture.hook.ID, fixture.payload(t, `{"text":"hi","format":"plain"}`)); err != nil {
		t.Fatalf("Deliver should tolerate a duplicate invite, got: %v", err)
	}
	if fixture.joins.Load() != 1 || fixture.sends.Load() != 1 {
		t.Errorf("joins = %d, sends = %d, want 1 each",
			fixture.joins.Load(), fixture.sends.Load())
	}
}

func TestDeliverFailsOnUnexpectedInviteError(t *testing.T) {
	fixture := newDeliveryFixture(t)
	fixture.inviteCode = "M_LIMIT_EXCEEDED"

	err := fixture.deliverer.Deliver(context.Background(),
		fixture.hook.ID, fixture.payload(t, `{"text":"hi","format":"plain"}`))
	if err == nil {
		t.Fatal("expected error for a non-benign invite failure")
	}
	if fixture.sends.Load() != 0 {
		t.Error("message sent after a failed handshake")
	}
}

func TestDeliverHTMLNotice(t *testing.T) {
	fixture := newDeliveryFixture(t)
	fixture.joinedRooms = []string{"!target:test.local"}
	payload := fixture.payload(t,
		`{"text":"<b>deploy</b> done :rocket:","format":"html","msgtype":"notice"}`)

	if err := fixture.deliverer.Deliver(context.Background(), fixture.hook.ID, payload); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	content := fixture.sentContent
	if content.MsgType != "m.notice" {
		t.Errorf("msgtype = %q, want m.notice", content.MsgType)
	}
	if content.Format != messaging.FormatCustomHTML {
		t.Errorf("format = %q", content.Format)
	}
	if !strings.Contains(content.FormattedBody, "<b>deploy</b>") {
		t.Errorf("formatted_body = %q, want the original markup", content.FormattedBody)
	}
	if strings.Contains(content.Body, "<b>") {
		t.Errorf("body = %q, want markup stripped", content.Body)
	}
	if !strings.Contains(content.Body, "🚀") {
		t.Errorf("body = %q, want the emoji substituted", content.Body)
	}
}
