package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

// CreateFile records file metadata. The bytes themselves live in object
// storage, outside this package.
func (d *DB) CreateFile(ctx context.Context, f chat.File) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO files (id, filename, uploader_id, path)
		VALUES (?, ?, ?, ?)`,
		f.ID, f.Filename, f.UploaderID, f.Path,
	)
	if err != nil {
		return fmt.Errorf("chatdb: create file: %w", err)
	}
	return nil
}

// FindFileByName returns ErrNotFound when no file has filename.
func (d *DB) FindFileByName(ctx context.Context, filename string) (*chat.File, error) {
	var f chat.File
	err := d.db.QueryRowContext(ctx, `
		SELECT id, filename, uploader_id, path FROM files WHERE filename = ?`, filename,
	).Scan(&f.ID, &f.Filename, &f.UploaderID, &f.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatdb: find file: %w", err)
	}
	return &f, nil
}
