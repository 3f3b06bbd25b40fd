// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package hookstore persists webhook registrations. Each row binds a
// webhook id (the secret path segment of the inbound URL) to the Matrix
// room the payloads are delivered to and the virtual user that posts
// them.
package hookstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hookbridge/hookbridge/lib/ref"
	"github.com/hookbridge/hookbridge/lib/sqlitepool"
)

// IDLength is the length of a webhook id in characters.
const IDLength = 32

// idAlphabet is the character set for webhook ids. Alphanumeric only,
// so ids are safe in URLs without escaping.
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Webhook is a single registration: an inbound id mapped to a delivery
// target.
type Webhook struct {
	// ID is the 32-character secret identifying this webhook. It is
	// the only credential a caller needs to post to the room.
	ID string

	// RoomID is the Matrix room payloads are delivered to.
	RoomID ref.RoomID

	// UserID is the virtual Matrix user that posts the payloads.
	UserID ref.UserID

	// Label is an optional human-readable note. Empty when unset.
	Label string
}

// Store manages SQLite storage for webhook registrations.
//
// Store is safe for concurrent use. Uniqueness of ids is enforced by
// the PRIMARY KEY constraint; a collision (vanishingly unlikely at 32
// alphanumeric characters) surfaces as an insert error rather than a
// silent overwrite.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Config holds the parameters for opening a webhook store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS webhooks (
	id     TEXT PRIMARY KEY NOT NULL,
	roomId TEXT NOT NULL,
	userId TEXT NOT NULL,
	label  TEXT
);
`

// Open creates a webhook store backed by SQLite. The database file and
// schema are created if they do not exist.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("hookstore: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hookstore: %w", err)
	}

	return &Store{pool: pool, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// CreateWebhook generates a fresh webhook id and durably records the
// registration. The returned webhook carries the new id; it is only
// returned after the insert has committed, so an id handed to a caller
// is always backed by a row.
func (s *Store) CreateWebhook(ctx context.Context, roomID ref.RoomID, userID ref.UserID, label string) (*Webhook, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("hookstore: generating id: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("hookstore: create webhook: %w", err)
	}
	defer s.pool.Put(conn)

	var labelArg any
	if label != "" {
		labelArg = label
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO webhooks (id, roomId, userId, label) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{id, roomID.String(), userID.String(), labelArg},
		})
	if err != nil {
		return nil, fmt.Errorf("hookstore: inserting webhook: %w", err)
	}

	s.logger.Info("webhook created",
		"room_id", roomID.String(),
		"user_id", userID.String(),
	)

	return &Webhook{
		ID:     id,
		RoomID: roomID,
		UserID: userID,
		Label:  label,
	}, nil
}

// GetWebhook looks up a registration by id. Returns (nil, nil) when no
// webhook with that id exists, so callers can distinguish "unknown id"
// from a storage failure.
func (s *Store) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("hookstore: get webhook: %w", err)
	}
	defer s.pool.Put(conn)

	var found *Webhook
	err = sqlitex.Execute(conn,
		"SELECT id, roomId, userId, label FROM webhooks WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("stored roomId: %w", err)
				}
				userID, err := ref.ParseUserID(stmt.ColumnText(2))
				if err != nil {
					return fmt.Errorf("stored userId: %w", err)
				}
				found = &Webhook{
					ID:     stmt.ColumnText(0),
					RoomID: roomID,
					UserID: userID,
					Label:  stmt.ColumnText(3),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("hookstore: querying webhook: %w", err)
	}
	return found, nil
}

// generateID produces a 32-character alphanumeric id from the system
// CSPRNG. Rejection sampling keeps the distribution uniform over the
// 62-character alphabet.
func generateID() (string, error) {
	id := make([]byte, 0, IDLength)
	buf := make([]byte, 64)

	// 62*4 = 248 is the largest multiple of len(idAlphabet) that fits
	// in a byte. Bytes at or above it are discarded to avoid biasing
	// the low end of the alphabet.
	const max = byte(248)

	for len(id) < IDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
			if len(id) == IDLength {
				break
			}
		}
	}
	return string(id), nil
}
