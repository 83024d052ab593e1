// Package chatdb is the document database behind the coordination layer:
// users, rooms and their participants, messages with read receipts, file
// metadata, and the document-backed session table. It runs on SQLite.
package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("chatdb: not found")

// Schema is applied on Open; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rooms (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	creator_id   TEXT NOT NULL DEFAULT '',
	has_password INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL,
	joined_at TIMESTAMP NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS files (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL UNIQUE,
	uploader_id TEXT NOT NULL,
	path        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT 'text',
	file_id    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_file ON messages(file_id);

CREATE TABLE IF NOT EXISTS message_readers (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	read_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	user_id       TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	payload       TEXT NOT NULL
);
`

// DB wraps the SQLite connection pool.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("chatdb: parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("chatdb: open: %w", err)
	}
	// A single writer connection keeps SQLite from reporting SQLITE_BUSY
	// under concurrent handlers; statements queue in the pool instead.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chatdb: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chatdb: foreign_keys pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chatdb: apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
}

func ensureParentDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// dedupe returns ids without empty strings or repeats, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
