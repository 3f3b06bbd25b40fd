// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

package secret_test

import (
	"bytes"
	"testing"

	"github.com/hookbridge/hookbridge/lib/secret"
)

func TestNewFromBytes(t *testing.T) {
	source := []byte("hs_token_value")
	buffer, err := secret.NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "hs_token_value" {
		t.Errorf("String() = %q, want %q", got, "hs_token_value")
	}

	// The source slice must be zeroed after the copy.
	for i, b := range source {
		if b != 0 {
			t.Errorf("source[%d] = %d, want 0", i, b)
		}
	}
}

func TestBytesMatchesOriginal(t *testing.T) {
	buffer, err := secret.NewFromBytes([]byte("abc123"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), []byte("abc123")) {
		t.Errorf("Bytes() = %q, want %q", buffer.Bytes(), "abc123")
	}
	if buffer.Len() != 6 {
		t.Errorf("Len() = %d, want 6", buffer.Len())
	}
}

func TestEmptySourceRejected(t *testing.T) {
	if _, err := secret.NewFromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := secret.NewFromBytes([]byte("token"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}

	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAccessAfterClosePanics(t *testing.T) {
	buffer, err := secret.NewFromBytes([]byte("token"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic reading closed buffer")
		}
	}()
	_ = buffer.Bytes()
}
